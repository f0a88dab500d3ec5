// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
)

// Mode is the detected response shape.
type Mode string

const (
	// StreamMode consumes newline-delimited SSE frames incrementally.
	StreamMode Mode = "stream"
	// OneShotMode parses a single JSON document, the degraded path the
	// upstream falls back to on validation failures.
	OneShotMode Mode = "oneshot"
)

// UpstreamError is a structured error document received instead of
// recommendations. Maps to error code AI_JSON_ERROR at the session
// boundary.
type UpstreamError struct {
	Code    int64
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error document: code=%d message=%s", e.Code, e.Message)
}

// Outcome is the final aggregation result: the terminal item list in
// first-seen order plus the detected mode. Err carries an upstream error
// document when one arrived; the item list is still valid (usually empty).
type Outcome struct {
	Items []datatypes.RecommendationItem
	Mode  Mode
	Err   *UpstreamError
}

// Aggregator folds one upstream response into an ordered recommendation
// list. Items are keyed by check item name; reason and caution fragments
// concatenate in arrival order, and sequence numbers follow first
// appearance, 1-based. Single use: one aggregator per upstream call.
type Aggregator struct {
	order []string
	acc   map[string]*accumEntry
}

type accumEntry struct {
	reason   strings.Builder
	cautions strings.Builder
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{acc: make(map[string]*accumEntry)}
}

// DetectShape classifies the response by content type. JSON without an
// event-stream marker is the one-shot degraded path; everything else is
// treated as a stream.
func DetectShape(resp *http.Response) Mode {
	ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		ct = strings.ToLower(resp.Header.Get("Content-Type"))
	}
	if strings.Contains(ct, "application/json") && !strings.Contains(ct, "text/event-stream") {
		return OneShotMode
	}
	return StreamMode
}

// Consume reads the whole response body and returns the terminal outcome.
// onPartial, if non-nil, fires with a snapshot after every applied stream
// fragment; it never fires in one-shot mode. The body is closed before
// returning.
func (a *Aggregator) Consume(ctx context.Context, resp *http.Response, onPartial func([]datatypes.RecommendationItem)) (*Outcome, error) {
	defer resp.Body.Close()

	mode := DetectShape(resp)
	switch mode {
	case OneShotMode:
		upErr, err := a.consumeOneShot(resp.Body)
		if err != nil {
			return nil, err
		}
		return &Outcome{Items: a.Snapshot(), Mode: mode, Err: upErr}, nil
	default:
		if err := a.consumeStream(ctx, resp.Body, onPartial); err != nil {
			return nil, err
		}
		return &Outcome{Items: a.Snapshot(), Mode: mode}, nil
	}
}

// streamFrame is one decoded SSE data frame. Raw fields keep the decode
// tolerant: the upstream mixes types freely.
type streamFrame struct {
	Finish        json.RawMessage `json:"finish"`
	Code          json.RawMessage `json:"code"`
	Data          json.RawMessage `json:"data"`
	CheckItemName json.RawMessage `json:"check_item_name"`
	Reason        json.RawMessage `json:"reason"`
	Cautions      json.RawMessage `json:"cautions"`
}

// consumeStream parses newline-delimited frames. Lines with a "data:"
// prefix are SSE events; bare JSON object lines are accepted too. Anything
// undecodable is skipped. A truthy finish field ends the stream.
func (a *Aggregator) consumeStream(ctx context.Context, body io.Reader, onPartial func([]datatypes.RecommendationItem)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimLeft(scanner.Text(), " \t")
		var payload string
		switch {
		case strings.HasPrefix(line, "data:"):
			payload = strings.TrimSpace(line[len("data:"):])
		case strings.HasPrefix(line, "{"):
			payload = line
		default:
			continue
		}
		if payload == "" {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		if finishTruthy(frame.Finish) {
			return nil
		}

		fragRaw := selectFragment(frame)
		if fragRaw == nil {
			continue
		}
		if a.applyFragment(fragRaw) && onPartial != nil {
			onPartial(a.Snapshot())
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ai stream: %w", err)
	}
	return nil
}

// finishTruthy mirrors the upstream's loosely typed end marker: the number
// 1, a boolean true, or the strings "true"/"True".
func finishTruthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "1", "true", `"true"`, `"True"`:
		return true
	}
	return false
}

// selectFragment picks the item payload out of a frame: the data object on
// code=0 envelopes, or the frame itself when it carries item fields inline.
func selectFragment(frame streamFrame) json.RawMessage {
	if string(bytes.TrimSpace(frame.Code)) == "0" && isJSONObject(frame.Data) {
		return frame.Data
	}
	if frame.CheckItemName != nil || frame.Reason != nil || frame.Cautions != nil {
		inline := map[string]json.RawMessage{}
		if frame.CheckItemName != nil {
			inline["check_item_name"] = frame.CheckItemName
		}
		if frame.Reason != nil {
			inline["reason"] = frame.Reason
		}
		if frame.Cautions != nil {
			inline["cautions"] = frame.Cautions
		}
		raw, err := json.Marshal(inline)
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// fragment is one item payload with both naming conventions accepted.
type fragment struct {
	CheckItemName flexString `json:"check_item_name"`
	CheckItemAlt  flexString `json:"checkItemName"`
	Reason        flexString `json:"reason"`
	Cautions      flexString `json:"cautions"`
}

func (f fragment) name() string {
	if f.CheckItemName != "" {
		return string(f.CheckItemName)
	}
	return string(f.CheckItemAlt)
}

// applyFragment accumulates one decoded fragment. Returns false when the
// fragment is skipped (undecodable or nameless).
func (a *Aggregator) applyFragment(raw json.RawMessage) bool {
	var frag fragment
	if err := json.Unmarshal(raw, &frag); err != nil {
		return false
	}
	name := frag.name()
	if name == "" {
		return false
	}
	entry, ok := a.acc[name]
	if !ok {
		entry = &accumEntry{}
		a.acc[name] = entry
		a.order = append(a.order, name)
	}
	entry.reason.WriteString(string(frag.Reason))
	entry.cautions.WriteString(string(frag.Cautions))
	return true
}

// oneShotDoc is the degraded single-document response.
type oneShotDoc struct {
	Code            json.RawMessage `json:"code"`
	Message         flexString      `json:"message"`
	Data            json.RawMessage `json:"data"`
	Recommendations json.RawMessage `json:"recommendations"`
}

// consumeOneShot parses a whole JSON document. A non-zero integer code is
// an upstream error; item arrays are still extracted from the usual nesting
// spots so a partial degraded response is not thrown away.
func (a *Aggregator) consumeOneShot(body io.Reader) (*UpstreamError, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read ai response: %w", err)
	}

	var doc oneShotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode ai response: %w", err)
	}

	var upErr *UpstreamError
	var code int64
	if len(doc.Code) > 0 && json.Unmarshal(doc.Code, &code) == nil && code != 0 {
		msg := string(doc.Message)
		if msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		upErr = &UpstreamError{Code: code, Message: msg}
	}

	for _, item := range extractItems(doc) {
		a.setItem(item)
	}
	return upErr, nil
}

// extractItems hunts for the item array: data as a list, a list nested
// under data, or a top-level recommendations list.
func extractItems(doc oneShotDoc) []json.RawMessage {
	var items []json.RawMessage
	if json.Unmarshal(doc.Data, &items) == nil && items != nil {
		return items
	}
	if isJSONObject(doc.Data) {
		var nested map[string]json.RawMessage
		if json.Unmarshal(doc.Data, &nested) == nil {
			for _, key := range []string{"recommendations", "items", "results", "list"} {
				if json.Unmarshal(nested[key], &items) == nil && items != nil {
					return items
				}
			}
		}
	}
	if json.Unmarshal(doc.Recommendations, &items) == nil && items != nil {
		return items
	}
	return nil
}

// setItem records one complete one-shot item. Unlike stream fragments the
// values replace rather than concatenate; the document is already final.
func (a *Aggregator) setItem(raw json.RawMessage) {
	if !isJSONObject(raw) {
		return
	}
	var frag fragment
	if err := json.Unmarshal(raw, &frag); err != nil {
		return
	}
	name := frag.name()
	if name == "" {
		return
	}
	entry, ok := a.acc[name]
	if !ok {
		entry = &accumEntry{}
		a.acc[name] = entry
		a.order = append(a.order, name)
	} else {
		entry.reason.Reset()
		entry.cautions.Reset()
	}
	entry.reason.WriteString(string(frag.Reason))
	entry.cautions.WriteString(string(frag.Cautions))
}

// Snapshot materializes the current state in first-seen order.
func (a *Aggregator) Snapshot() []datatypes.RecommendationItem {
	items := make([]datatypes.RecommendationItem, 0, len(a.order))
	for i, name := range a.order {
		entry := a.acc[name]
		items = append(items, datatypes.RecommendationItem{
			CheckItemName: name,
			Reason:        strings.TrimSpace(entry.reason.String()),
			Cautions:      strings.TrimSpace(entry.cautions.String()),
			Sequence:      i + 1,
		})
	}
	return items
}

// flexString decodes a JSON value of any scalar type into its textual
// form: strings directly, numbers and booleans as written, and composite
// values as compact JSON.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(trimmed)
	return nil
}
