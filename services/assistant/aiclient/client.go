// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aiclient talks to the external streamed-inference service and
// folds its response, whatever shape it arrives in, into an ordered
// recommendation list.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
)

var tracer = otel.Tracer("assistant.aiclient")

// Breaker defaults. Five straight failures trip the circuit; after the
// cooldown one probe call may pass.
const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Client issues streaming recommendation calls against the upstream AI
// service. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	endpoint   string
	breaker    *breaker
}

// New builds a client from the service configuration. The HTTP timeout
// bounds the whole call including stream consumption.
func New(cfg config.AIServiceConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		baseURL:    cfg.BaseURL,
		endpoint:   cfg.Endpoint,
		breaker:    newBreaker(breakerThreshold, breakerCooldown),
	}
}

// URL returns the full upstream endpoint, recorded alongside each outcome.
func (c *Client) URL() string {
	return c.baseURL + c.endpoint
}

// Open posts the request and hands back the live response for the
// aggregator to consume. The caller owns resp.Body. Non-2xx statuses are
// drained and returned as errors.
func (c *Client) Open(ctx context.Context, reqBody Request) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "AIClient.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.patient_id", reqBody.PatientID),
		attribute.String("ai.session_id", reqBody.SessionID),
	)

	if err := c.breaker.allow(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "breaker open")
		return nil, err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshal ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewBuffer(payload))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.failure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		return nil, fmt.Errorf("call ai service: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.failure()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		err := fmt.Errorf("ai service status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream non-2xx")
		return nil, err
	}

	c.breaker.success()
	span.SetAttributes(attribute.String("ai.content_type", resp.Header.Get("Content-Type")))
	return resp, nil
}
