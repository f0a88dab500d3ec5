// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker persists per-request traces and spans to the database so
// operators can inspect request timelines without external tooling. It is
// deliberately decoupled from OpenTelemetry: these rows are the product
// surface, OTLP export is ops plumbing.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// Span and trace statuses as stored.
const (
	StatusRunning = "running"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// DefaultServiceName labels spans emitted by this process.
const DefaultServiceName = "Assistant-Server"

// TraceStore is the slice of the store the tracker persists through.
type TraceStore interface {
	CreateTrace(ctx context.Context, rec *models.TraceRecord) error
	FinishTrace(ctx context.Context, traceID, status string, end time.Time, durationMs int64) error
	CreateSpan(ctx context.Context, rec *models.SpanRecord) error
	FinishSpan(ctx context.Context, spanID, status string, end time.Time, durationMs int64, responseData, errMsg string) error
}

// Tracker hands out explicit trace and span ids and records their
// lifecycle. Persistence failures are logged and swallowed: tracing must
// never fail a clinical request.
type Tracker struct {
	store TraceStore
	log   *slog.Logger

	mu     sync.Mutex
	starts map[string]time.Time // open trace/span id -> start
}

func New(store TraceStore, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: store, log: log, starts: make(map[string]time.Time)}
}

// StartTrace opens a trace for one external request and returns its id.
func (t *Tracker) StartTrace(ctx context.Context, requestID, clientID string) string {
	traceID := uuid.NewString()
	now := time.Now()

	t.mu.Lock()
	t.starts[traceID] = now
	t.mu.Unlock()

	err := t.store.CreateTrace(ctx, &models.TraceRecord{
		TraceID:     traceID,
		RequestID:   requestID,
		ClientID:    clientID,
		ServiceName: DefaultServiceName,
		StartTime:   now,
		Status:      StatusRunning,
	})
	if err != nil {
		t.log.Warn("trace persist failed", "trace_id", traceID, "error", err)
	}
	return traceID
}

// FinishTrace closes a trace. Calling it twice, or with an unknown id, is a
// no-op.
func (t *Tracker) FinishTrace(ctx context.Context, traceID, status string) {
	start, ok := t.takeStart(traceID)
	if !ok {
		return
	}
	end := time.Now()
	err := t.store.FinishTrace(ctx, traceID, status, end, end.Sub(start).Milliseconds())
	if err != nil {
		t.log.Warn("trace finish persist failed", "trace_id", traceID, "error", err)
	}
}

// StartSpan opens one timed sub-operation under a trace and returns its id.
// parentSpanID may be empty for root spans.
func (t *Tracker) StartSpan(ctx context.Context, traceID, parentSpanID, name, apiPath, requestData string) string {
	spanID := uuid.NewString()
	now := time.Now()

	t.mu.Lock()
	t.starts[spanID] = now
	t.mu.Unlock()

	err := t.store.CreateSpan(ctx, &models.SpanRecord{
		SpanID:       spanID,
		TraceID:      traceID,
		ParentSpanID: parentSpanID,
		ServiceName:  DefaultServiceName,
		SpanName:     name,
		ApiPath:      apiPath,
		StartTime:    now,
		Status:       StatusRunning,
		RequestData:  requestData,
	})
	if err != nil {
		t.log.Warn("span persist failed", "span_id", spanID, "trace_id", traceID, "error", err)
	}
	return spanID
}

// FinishSpan closes a span with its outcome. Idempotent: the second and
// later calls for an id do nothing, so error paths can finish defensively.
func (t *Tracker) FinishSpan(ctx context.Context, spanID, status, responseData, errMsg string) {
	start, ok := t.takeStart(spanID)
	if !ok {
		return
	}
	end := time.Now()
	err := t.store.FinishSpan(ctx, spanID, status, end, end.Sub(start).Milliseconds(), responseData, errMsg)
	if err != nil {
		t.log.Warn("span finish persist failed", "span_id", spanID, "error", err)
	}
}

func (t *Tracker) takeStart(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.starts[id]
	if ok {
		delete(t.starts, id)
	}
	return start, ok
}
