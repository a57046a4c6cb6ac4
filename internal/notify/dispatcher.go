// Package notify formats change records into text and delivers them over the
// messaging channel: length-bounded chunks, unconditional pacing, bounded
// retry per chunk.
package notify

import (
	"context"
	"time"
	"unicode/utf8"

	"stockwatch/internal/classify"
	"stockwatch/pkg/logx"
)

// Sender delivers one already-chunked message over the channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	// MaxMessageLen is the channel's per-request text limit; longer text is
	// split on raw character boundaries.
	MaxMessageLen int

	// Pace is inserted after every chunk send, including the last. It is
	// unconditional, not adaptive.
	Pace time.Duration

	// RetryMax re-attempts per chunk; RetryDelay between attempts.
	RetryMax   int
	RetryDelay time.Duration

	// BucketThreshold: per-bucket alerts fire only when the run's new-item
	// count reaches it. BucketMaxLinks caps links per bucket message; the
	// remainder is summarized as a count.
	BucketThreshold int
	BucketMaxLinks  int

	// TopLinks caps the links section of the summary message.
	TopLinks int
}

func (c *Config) defaults() {
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 3800
	}
	if c.Pace <= 0 {
		c.Pace = 300 * time.Millisecond
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.BucketThreshold <= 0 {
		c.BucketThreshold = 5
	}
	if c.BucketMaxLinks <= 0 {
		c.BucketMaxLinks = 8
	}
	if c.TopLinks <= 0 {
		c.TopLinks = 12
	}
}

// Dispatcher is the only component that talks to the messaging channel. It
// never touches the snapshot store.
type Dispatcher struct {
	cfg    Config
	sender Sender
	log    logx.Logger
}

func NewDispatcher(cfg Config, sender Sender, log logx.Logger) *Dispatcher {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, sender: sender, log: log}
}

// Deliver splits text into chunks and sends them strictly in order. A chunk
// whose retry budget is exhausted is logged and skipped; later chunks are
// still sent. The only returned error is context cancellation.
func (d *Dispatcher) Deliver(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	chunks := splitChunks(text, d.cfg.MaxMessageLen)
	for i, chunk := range chunks {
		if err := d.sendChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("chunk abandoned after retries",
				logx.Int("chunk", i+1),
				logx.Int("chunks", len(chunks)),
				logx.Err(err))
		}
		if err := d.pace(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DeliverBuckets emits one message per non-empty bucket in rule order, each
// listing up to BucketMaxLinks items with the overflow summarized as a count.
func (d *Dispatcher) DeliverBuckets(ctx context.Context, buckets classify.Buckets, order []string) error {
	for _, name := range order {
		items := buckets[name]
		if len(items) == 0 {
			continue
		}
		msg := FormatBucket(name, items, d.cfg.BucketMaxLinks)
		if err := d.Deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// ShouldSplitBuckets reports whether the run's new-item volume warrants
// per-bucket alerts.
func (d *Dispatcher) ShouldSplitBuckets(newItemCount int) bool {
	return newItemCount >= d.cfg.BucketThreshold
}

// TopLinks returns the configured cap for the summary links section.
func (d *Dispatcher) TopLinks() int { return d.cfg.TopLinks }

// sendChunk attempts one chunk up to 1+RetryMax times with a fixed backoff.
func (d *Dispatcher) sendChunk(ctx context.Context, chunk string) error {
	attempts := 1 + d.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.sender.Send(ctx, chunk)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.log.Warn("chunk send failed",
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err))
		if attempt >= attempts {
			break
		}
		if err := sleep(ctx, d.cfg.RetryDelay); err != nil {
			return err
		}
	}
	return lastErr
}

func (d *Dispatcher) pace(ctx context.Context) error {
	return sleep(ctx, d.cfg.Pace)
}

func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitChunks slices text into contiguous pieces of at most maxLen bytes.
// Splitting makes no attempt to avoid mid-word cuts, but it never cuts inside
// a multibyte rune: that would hand the channel invalid UTF-8.
func splitChunks(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}
	chunks := make([]string, 0, len(text)/maxLen+1)
	for len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
