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
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
)

func streamResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDetectShape(t *testing.T) {
	assert.Equal(t, StreamMode, DetectShape(streamResponse("")))
	assert.Equal(t, OneShotMode, DetectShape(jsonResponse("{}")))

	// Unknown or absent content types default to streaming.
	resp := streamResponse("")
	resp.Header = http.Header{}
	assert.Equal(t, StreamMode, DetectShape(resp))
}

func TestConsumeStream_FragmentConcatenation(t *testing.T) {
	body := strings.Join([]string{
		`data: {"code":0,"data":{"check_item_name":"CT chest","reason":"persistent "}}`,
		``,
		`data: {"code":0,"data":{"check_item_name":"CT chest","reason":"cough","cautions":"contrast allergy"}}`,
		`data: {"code":0,"data":{"check_item_name":"ECG","reason":"palpitations"}}`,
		`data: {"finish":1}`,
	}, "\n")

	var partials [][]datatypes.RecommendationItem
	agg := NewAggregator()
	out, err := agg.Consume(context.Background(), streamResponse(body), func(items []datatypes.RecommendationItem) {
		partials = append(partials, items)
	})
	require.NoError(t, err)
	assert.Equal(t, StreamMode, out.Mode)
	assert.Nil(t, out.Err)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "CT chest", out.Items[0].CheckItemName)
	assert.Equal(t, "persistent cough", out.Items[0].Reason)
	assert.Equal(t, "contrast allergy", out.Items[0].Cautions)
	assert.Equal(t, 1, out.Items[0].Sequence)
	assert.Equal(t, "ECG", out.Items[1].CheckItemName)
	assert.Equal(t, 2, out.Items[1].Sequence)

	// One partial snapshot per applied fragment.
	require.Len(t, partials, 3)
	assert.Len(t, partials[0], 1)
	assert.Len(t, partials[2], 2)
}

func TestConsumeStream_FinishVariants(t *testing.T) {
	for _, finish := range []string{`1`, `true`, `"true"`, `"True"`} {
		t.Run(finish, func(t *testing.T) {
			body := `data: {"finish":` + finish + `}` + "\n" +
				`data: {"code":0,"data":{"check_item_name":"after finish","reason":"x"}}`
			agg := NewAggregator()
			out, err := agg.Consume(context.Background(), streamResponse(body), nil)
			require.NoError(t, err)
			assert.Empty(t, out.Items)
		})
	}

	t.Run("falsy finish values do not end the stream", func(t *testing.T) {
		body := `data: {"finish":0}` + "\n" +
			`data: {"code":0,"data":{"check_item_name":"CT","reason":"x"}}`
		agg := NewAggregator()
		out, err := agg.Consume(context.Background(), streamResponse(body), nil)
		require.NoError(t, err)
		assert.Len(t, out.Items, 1)
	})
}

func TestConsumeStream_InlineAndBareFrames(t *testing.T) {
	body := strings.Join([]string{
		// Bare JSON line without the data: prefix.
		`{"check_item_name":"CT","reason":"a"}`,
		// Inline fields with non-string values pass through textually.
		`data: {"check_item_name":"CT","reason":2}`,
		// Garbage and non-JSON lines are skipped.
		`data: not json at all`,
		`: sse comment`,
		`data: {"code":5,"data":{"check_item_name":"ignored","reason":"x"}}`,
		// Nameless fragments are skipped.
		`data: {"code":0,"data":{"reason":"orphan"}}`,
	}, "\n")

	agg := NewAggregator()
	out, err := agg.Consume(context.Background(), streamResponse(body), nil)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "CT", out.Items[0].CheckItemName)
	assert.Equal(t, "a2", out.Items[0].Reason)
}

func TestConsumeStream_WithoutExplicitFinish(t *testing.T) {
	body := `data: {"code":0,"data":{"check_item_name":"CT","reason":"done"}}`
	agg := NewAggregator()
	out, err := agg.Consume(context.Background(), streamResponse(body), nil)
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)
}

func TestConsumeOneShot_ErrorDocument(t *testing.T) {
	agg := NewAggregator()
	out, err := agg.Consume(context.Background(),
		jsonResponse(`{"code":4001,"message":"missing diagnose_name"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, OneShotMode, out.Mode)
	require.NotNil(t, out.Err)
	assert.EqualValues(t, 4001, out.Err.Code)
	assert.Equal(t, "missing diagnose_name", out.Err.Message)
	assert.Empty(t, out.Items)
}

func TestConsumeOneShot_ItemExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"data as array", `{"code":0,"data":[{"check_item_name":"CT","reason":"r"}]}`},
		{"data.recommendations", `{"code":0,"data":{"recommendations":[{"check_item_name":"CT","reason":"r"}]}}`},
		{"data.items", `{"code":0,"data":{"items":[{"checkItemName":"CT","reason":"r"}]}}`},
		{"data.results", `{"code":0,"data":{"results":[{"check_item_name":"CT","reason":"r"}]}}`},
		{"data.list", `{"code":0,"data":{"list":[{"check_item_name":"CT","reason":"r"}]}}`},
		{"top level recommendations", `{"recommendations":[{"check_item_name":"CT","reason":"r"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			out, err := agg.Consume(context.Background(), jsonResponse(tt.body), nil)
			require.NoError(t, err)
			require.Len(t, out.Items, 1)
			assert.Equal(t, "CT", out.Items[0].CheckItemName)
			assert.Equal(t, "r", out.Items[0].Reason)
		})
	}

	t.Run("non-object and nameless entries skipped", func(t *testing.T) {
		agg := NewAggregator()
		out, err := agg.Consume(context.Background(),
			jsonResponse(`{"data":[42,"x",{"reason":"nameless"},{"check_item_name":"CT"}]}`), nil)
		require.NoError(t, err)
		require.Len(t, out.Items, 1)
		assert.Equal(t, "CT", out.Items[0].CheckItemName)
	})

	t.Run("undecodable document fails", func(t *testing.T) {
		agg := NewAggregator()
		_, err := agg.Consume(context.Background(), jsonResponse(`not json`), nil)
		assert.Error(t, err)
	})

	t.Run("no partial callbacks in one-shot mode", func(t *testing.T) {
		agg := NewAggregator()
		called := false
		_, err := agg.Consume(context.Background(),
			jsonResponse(`{"data":[{"check_item_name":"CT"}]}`),
			func([]datatypes.RecommendationItem) { called = true })
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestBuildRequest(t *testing.T) {
	cfg := testAIConfig()
	msg := datatypes.CDSSMessage{
		PatNo:    "P1",
		AdmID:    "A1",
		UserCode: "D1",
		ItemData: datatypes.ItemData{
			PatientAge:      "54",
			PatientSex:      "F",
			ClinicInfo:      "chest pain",
			AbstractHistory: "hypertension for 10 years\nwith medication",
		},
	}

	req := BuildRequest(cfg, msg)
	assert.Equal(t, "A1", req.SessionID)
	assert.Equal(t, "P1", req.PatientID)
	assert.Equal(t, "unknown", req.Department)
	assert.Equal(t, "lip", req.Source)
	assert.Equal(t, 3, req.RecommendCount)
	assert.Equal(t, "hypertension for 10 years", req.DiagnoseName)
	assert.NotContains(t, req.DiagnoseName, "\n")
}

func TestInferDiagnoseNameFallsBackToClinicInfo(t *testing.T) {
	msg := datatypes.CDSSMessage{
		ItemData: datatypes.ItemData{ClinicInfo: "persistent dry cough"},
	}
	req := BuildRequest(testAIConfig(), msg)
	assert.Equal(t, "persistent dry cough", req.DiagnoseName)
}
