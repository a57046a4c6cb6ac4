// Package logx provides structured logging for stockwatch on top of zerolog.
//
// It exposes a small Logger with closure-based fields and a Service that owns
// the active sinks (console and optional file) and can swap them at runtime.
package logx
