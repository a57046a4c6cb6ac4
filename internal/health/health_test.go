package health

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"stockwatch/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) (*http.Response, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestServiceServesLiveness(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })

	addr := svc.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}

	for _, path := range []string{"/", "/healthz"} {
		resp, err := waitForHTTP(ctx, "http://"+addr+path)
		if err != nil {
			t.Fatalf("probe not reachable at %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		if string(body) != "stockwatch running\n" {
			t.Fatalf("%s: body = %q", path, body)
		}
	}
}

func TestServiceStopReleasesAddr(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Stop(context.Background())

	if addr := svc.Addr(); addr != "" {
		t.Fatalf("expected no address after Stop, got %s", addr)
	}
}

func TestServiceDefaultAddr(t *testing.T) {
	svc := New(Config{Enabled: true}, logx.Nop())
	if svc.cfg.Addr != ":10000" {
		t.Fatalf("default addr = %q", svc.cfg.Addr)
	}
}
