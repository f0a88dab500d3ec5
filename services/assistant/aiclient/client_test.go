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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
)

func testAIConfig() config.AIServiceConfig {
	return config.AIServiceConfig{
		BaseURL:        "http://ai.example",
		Endpoint:       "/rimagai/checkitem/recommend_item_with_reason",
		TimeoutSeconds: 5,
		Source:         "lip",
		RecommendCount: 3,
		ServiceName:    "rimagai_checkitem",
	}
}

func TestClientOpen_StreamRoundTrip(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rimagai/checkitem/recommend_item_with_reason", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"code\":0,\"data\":{\"check_item_name\":\"CT\",\"reason\":\"r\"}}\n" +
				"data: {\"finish\":true}\n"))
	}))
	defer srv.Close()

	cfg := testAIConfig()
	cfg.BaseURL = srv.URL
	client := New(cfg)

	msg := datatypes.CDSSMessage{
		PatNo: "P1", AdmID: "A1", UserCode: "D1", DeptCode: "RAD",
		ItemData: datatypes.ItemData{PatientAge: "54", PatientSex: "F", ClinicInfo: "cough"},
	}
	resp, err := client.Open(context.Background(), BuildRequest(cfg, msg))
	require.NoError(t, err)

	out, err := NewAggregator().Consume(context.Background(), resp, nil)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "CT", out.Items[0].CheckItemName)

	assert.Equal(t, "P1", gotReq.PatientID)
	assert.Equal(t, "RAD", gotReq.Department)
	assert.Equal(t, "A1", gotReq.SessionID)
}

func TestClientOpen_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testAIConfig()
	cfg.BaseURL = srv.URL
	_, err := New(cfg).Open(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream overloaded")
}

func TestClientOpen_ConnectionRefused(t *testing.T) {
	cfg := testAIConfig()
	cfg.BaseURL = "http://127.0.0.1:1"
	_, err := New(cfg).Open(context.Background(), Request{})
	assert.Error(t, err)
}
