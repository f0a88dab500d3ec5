// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging sets up structured logging for the assistant server.
//
// The server logs JSON to stderr so container log collectors can parse
// entries directly. An optional log directory adds a per-day JSON file
// alongside stderr, for sites that mount a log volume instead of shipping
// stdout. Every entry carries a "service" attribute so aggregated logs can
// be filtered by component.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls the logger destinations. The zero value logs Info and
// above as JSON on stderr.
type Config struct {
	// Level is the minimum level; entries below it are dropped.
	Level slog.Level

	// Service is attached to every entry as the "service" attribute.
	Service string

	// Dir, when set, adds a {service}_{YYYY-MM-DD}.log JSON file next to
	// the stderr stream. The directory is created if absent.
	Dir string

	// Text switches stderr to the human-readable text handler. File
	// output stays JSON.
	Text bool
}

// Setup builds the configured logger, installs it as the slog default, and
// returns it together with a close function for the file handle. The close
// function is non-nil even when no file is open.
func Setup(cfg Config) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var stderr slog.Handler
	if cfg.Text {
		stderr = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderr = slog.NewJSONHandler(os.Stderr, opts)
	}

	handler := stderr
	closeFn := func() error { return nil }

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("logging: create dir %s: %w", cfg.Dir, err)
		}
		name := cfg.Service
		if name == "" {
			name = "assistant"
		}
		path := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		handler = &teeHandler{handlers: []slog.Handler{stderr, slog.NewJSONHandler(file, opts)}}
		closeFn = file.Close
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// teeHandler fans each record out to every destination.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
