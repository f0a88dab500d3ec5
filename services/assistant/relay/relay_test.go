// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/aiclient"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/resolver"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/tracker"
)

type sentFrame struct {
	clientID string
	msgType  datatypes.MessageType
	payload  any
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeSender) Send(clientID string, msgType datatypes.MessageType, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{clientID, msgType, payload})
	return true
}

func (f *fakeSender) SendError(clientID, code, message, details string) bool {
	return f.Send(clientID, datatypes.MessageTypeError, datatypes.ErrorData{
		ErrorCode: code, ErrorMessage: message, Details: details,
	})
}

func (f *fakeSender) errorCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var codes []string
	for _, fr := range f.frames {
		if fr.msgType == datatypes.MessageTypeError {
			codes = append(codes, fr.payload.(datatypes.ErrorData).ErrorCode)
		}
	}
	return codes
}

func (f *fakeSender) recommendations() []datatypes.RecommendationData {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datatypes.RecommendationData
	for _, fr := range f.frames {
		if fr.msgType == datatypes.MessageTypeAIRecommendation {
			out = append(out, fr.payload.(datatypes.RecommendationData))
		}
	}
	return out
}

func (f *fakeSender) recommendationsFor(clientID string) []datatypes.RecommendationData {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datatypes.RecommendationData
	for _, fr := range f.frames {
		if fr.clientID == clientID && fr.msgType == datatypes.MessageTypeAIRecommendation {
			out = append(out, fr.payload.(datatypes.RecommendationData))
		}
	}
	return out
}

type fixture struct {
	relay  *Relay
	store  *store.Store
	sender *fakeSender
}

func newFixture(t *testing.T, upstream http.HandlerFunc) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	st := store.New(db)

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	cfg := config.AIServiceConfig{
		BaseURL:        srv.URL,
		Endpoint:       "/rimagai/checkitem/recommend_item_with_reason",
		TimeoutSeconds: 5,
		Source:         "lip",
		RecommendCount: 3,
		ServiceName:    "rimagai_checkitem",
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &fakeSender{}
	rel := New(cfg, aiclient.New(cfg),
		resolver.New(st, 5*time.Minute, quiet),
		tracker.New(st, quiet),
		sender, st, quiet)
	return &fixture{relay: rel, store: st, sender: sender}
}

func seedContext(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.SaveHisPushLog(context.Background(), &models.HisPushLog{
		MessageID: "m1",
		SystemID:  "CHKR01",
		PatNo:     "P1",
		AdmID:     "A1",
		UserCode:  "D1",
		UserIP:    "10.0.0.5",
		ItemData:  `{"patientAge":"54","patientSex":"F","clinicInfo":"chest pain","abstractHistory":"hypertension"}`,
		CreatedAt: time.Now().Add(-time.Minute),
	}))
}

func validRequest() datatypes.RecommendRequest {
	return datatypes.RecommendRequest{
		RequestID: "req-1", PatientID: "P1", VisitID: "A1", DoctorID: "D1",
	}
}

func sseUpstream(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}
}

func TestExecute_SuccessfulStream(t *testing.T) {
	f := newFixture(t, sseUpstream(
		`data: {"code":0,"data":{"check_item_name":"CT chest","reason":"persistent "}}`,
		`data: {"code":0,"data":{"check_item_name":"CT chest","reason":"cough"}}`,
		`data: {"finish":1}`,
	))
	seedContext(t, f.store)

	items, err := f.relay.Execute(context.Background(), "c1", validRequest())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "persistent cough", items[0].Reason)

	recs := f.sender.recommendations()
	require.GreaterOrEqual(t, len(recs), 3) // two partials plus the terminal snapshot
	last := recs[len(recs)-1]
	assert.False(t, last.Partial)
	assert.True(t, last.Finish)
	assert.Equal(t, 1, last.TotalCount)
	assert.Equal(t, "P1", last.PatNo)
	assert.Equal(t, "rimagai_checkitem", last.AIService)
	for _, rec := range recs[:len(recs)-1] {
		assert.True(t, rec.Partial)
		assert.False(t, rec.Finish)
	}
	assert.Empty(t, f.sender.errorCodes())

	// Outcome rows.
	ctx := context.Background()
	logs, total, err := f.store.ListRecommendationLogs(ctx, "P1", 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "success", logs[0].Status)
	var stored []datatypes.RecommendationItem
	require.NoError(t, json.Unmarshal([]byte(logs[0].Recommendations), &stored))
	assert.Len(t, stored, 1)

	sessions, _, err := f.store.ListSessions(ctx, "P1", 1, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Records, 1)

	cached, err := f.store.GetCachedRecommendations(ctx, "P1", "A1", 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestExecute_CollapsedDuplicateNotifiesBothTerminals(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"code":0,"data":{"check_item_name":"CT chest","reason":"cough"}}` + "\n" +
				`data: {"finish":true}` + "\n"))
	})
	seedContext(t, f.store)

	var wg sync.WaitGroup
	run := func(clientID, requestID string) {
		defer wg.Done()
		_, _ = f.relay.Execute(context.Background(), clientID, datatypes.RecommendRequest{
			RequestID: requestID, PatientID: "P1", VisitID: "A1", DoctorID: "D1",
		})
	}
	wg.Add(2)
	go run("c1", "req-A")
	<-entered
	go run("c2", "req-B")
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// The leader's terminal sees the stream as usual.
	leader := f.sender.recommendationsFor("c1")
	require.NotEmpty(t, leader)
	assert.True(t, leader[len(leader)-1].Finish)
	assert.Equal(t, "req-A", leader[len(leader)-1].RequestID)

	// The joining terminal shared the upstream call but still gets a
	// terminal snapshot under its own request id.
	joiner := f.sender.recommendationsFor("c2")
	require.Len(t, joiner, 1)
	assert.False(t, joiner[0].Partial)
	assert.True(t, joiner[0].Finish)
	assert.Equal(t, "req-B", joiner[0].RequestID)
	require.Len(t, joiner[0].Recommendations, 1)
	assert.Equal(t, "CT chest", joiner[0].Recommendations[0].CheckItemName)
}

func TestExecute_MissingFields(t *testing.T) {
	f := newFixture(t, sseUpstream())
	_, err := f.relay.Execute(context.Background(), "c1", datatypes.RecommendRequest{RequestID: "req-1"})
	require.ErrorIs(t, err, ErrIncompleteRequest)
	assert.Equal(t, []string{datatypes.ErrCodeIncompleteReq}, f.sender.errorCodes())
}

func TestExecute_ContextNotFound(t *testing.T) {
	f := newFixture(t, sseUpstream())
	_, err := f.relay.Execute(context.Background(), "c1", validRequest())
	require.ErrorIs(t, err, resolver.ErrContextNotFound)
	assert.Equal(t, []string{datatypes.ErrCodeContextNotFound}, f.sender.errorCodes())
	assert.Empty(t, f.sender.recommendations())
}

func TestExecute_EmptyStream(t *testing.T) {
	f := newFixture(t, sseUpstream(`data: {"finish":true}`))
	seedContext(t, f.store)

	items, err := f.relay.Execute(context.Background(), "c1", validRequest())
	require.NoError(t, err)
	assert.Empty(t, items)

	recs := f.sender.recommendations()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Finish)
	assert.Equal(t, 0, recs[0].TotalCount)
	assert.Equal(t, []string{datatypes.ErrCodeStreamEmpty}, f.sender.errorCodes())
}

func TestExecute_UpstreamErrorDocument(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":4001,"message":"missing diagnose_name"}`))
	})
	seedContext(t, f.store)

	items, err := f.relay.Execute(context.Background(), "c1", validRequest())
	require.NoError(t, err)
	assert.Empty(t, items)

	codes := f.sender.errorCodes()
	assert.Contains(t, codes, datatypes.ErrCodeUpstreamJSON)
	assert.Contains(t, codes, datatypes.ErrCodeStreamEmpty)
}

func TestExecute_UpstreamDown(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	})
	seedContext(t, f.store)

	_, err := f.relay.Execute(context.Background(), "c1", validRequest())
	require.Error(t, err)

	// Terminal snapshot still arrives so the client stops waiting.
	recs := f.sender.recommendations()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Finish)
	assert.Empty(t, recs[0].Recommendations)
	assert.Contains(t, f.sender.errorCodes(), datatypes.ErrCodeServerError)

	logs, _, err := f.store.ListRecommendationLogs(context.Background(), "P1", 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Status)

	var calls int64
	require.NoError(t, f.store.DB().Model(&models.ServiceCall{}).
		Where("status = ?", "failed").Count(&calls).Error)
	assert.EqualValues(t, 1, calls)
}

func TestExecute_PermissionDenied(t *testing.T) {
	f := newFixture(t, sseUpstream())
	seedContext(t, f.store)

	ctx := context.Background()
	role := &models.Role{RoleName: "restricted"}
	require.NoError(t, f.store.CreateRole(ctx, role))
	require.NoError(t, f.store.BindClientRole(ctx, "c1", role.ID))

	_, err := f.relay.Execute(ctx, "c1", validRequest())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, []string{datatypes.ErrCodePermissionDenied}, f.sender.errorCodes())
}

func TestExecute_DisabledClient(t *testing.T) {
	f := newFixture(t, sseUpstream())
	seedContext(t, f.store)

	ctx := context.Background()
	require.NoError(t, f.store.MarkConnected(ctx, "c1", "D1", "", "10.0.0.5"))
	require.NoError(t, f.store.SetClientDisabled(ctx, "c1", true))

	_, err := f.relay.Execute(ctx, "c1", validRequest())
	require.ErrorIs(t, err, ErrPermissionDenied)
}
