// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay runs the end-to-end recommendation pipeline: validate the
// request, gate it, resolve the clinical context, stream the upstream
// response to the requesting terminal, and record the outcome.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/aiclient"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/observability"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/resolver"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/tracker"
)

// Pipeline errors surfaced to callers. The WS handler maps them to error
// frames, the HTTP proxy to status codes.
var (
	ErrIncompleteRequest = errors.New("relay: missing required identifiers")
	ErrPermissionDenied  = errors.New("relay: client not permitted")
)

// Sender is the slice of the registry the relay pushes through.
type Sender interface {
	Send(clientID string, msgType datatypes.MessageType, payload any) bool
	SendError(clientID, code, message, details string) bool
}

// OutcomeStore persists relay results.
type OutcomeStore interface {
	SaveRecommendationLog(ctx context.Context, rec *models.AiRecommendationLog) error
	SaveServiceCall(ctx context.Context, call *models.ServiceCall) error
	EnsureSession(ctx context.Context, patNo, admID, doctorID string, now time.Time) (*models.AiSession, error)
	AppendSessionRecord(ctx context.Context, sessionID, requestID, summary string) error
	IsClientAllowed(ctx context.Context, clientID string) (bool, error)
	IsClientDisabled(ctx context.Context, clientID string) (bool, error)
}

// Relay owns one upstream client and fans results back to terminals.
type Relay struct {
	cfg      config.AIServiceConfig
	client   *aiclient.Client
	resolver *resolver.Resolver
	tracker  *tracker.Tracker
	sender   Sender
	outcomes OutcomeStore
	log      *slog.Logger

	// inflight collapses concurrent identical requests onto one upstream
	// call. Keyed by patient+visit: retries from a double-clicked button
	// share the stream result. Callers that join a run started by another
	// terminal replay the terminal state under their own request id.
	inflight singleflight.Group
}

// runOutcome is the shared result of one upstream run. The leader's
// session already saw every frame; a joiner rebuilds its own terminal
// frames from this.
type runOutcome struct {
	leaderClient  string
	leaderRequest string
	patNo         string
	items         []datatypes.RecommendationItem
	err           error
}

func New(cfg config.AIServiceConfig, client *aiclient.Client, res *resolver.Resolver, trk *tracker.Tracker, sender Sender, outcomes OutcomeStore, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		cfg:      cfg,
		client:   client,
		resolver: res,
		tracker:  trk,
		sender:   sender,
		outcomes: outcomes,
		log:      log,
	}
}

// Execute runs one recommendation request for a terminal. All outcomes,
// partial snapshots, the terminal snapshot, and error notifications go to
// the requesting terminal; the returned items serve the HTTP proxy path.
//
// Error mapping at the session boundary:
//
//	ErrIncompleteRequest      -> REQ_001
//	resolver.ErrContextNotFound -> REQ_404
//	ErrPermissionDenied       -> AUTH_403
//	anything else             -> SRV_500
func (r *Relay) Execute(ctx context.Context, clientID string, req datatypes.RecommendRequest) ([]datatypes.RecommendationItem, error) {
	start := time.Now()

	if missing := req.MissingFields(); len(missing) > 0 {
		r.sender.SendError(clientID, datatypes.ErrCodeIncompleteReq,
			"incomplete request", fmt.Sprintf("missing %v", missing))
		observability.CountRelay("invalid", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrIncompleteRequest, missing)
	}

	allowed, err := r.gate(ctx, clientID)
	if err != nil {
		r.log.Warn("permission gate lookup failed, allowing", "client_id", clientID, "error", err)
	} else if !allowed {
		r.sender.SendError(clientID, datatypes.ErrCodePermissionDenied,
			"client not permitted", "no allow rule matches the client's roles")
		observability.CountRelay("denied", time.Since(start).Seconds())
		return nil, ErrPermissionDenied
	}

	key := req.PatientID + "/" + req.VisitID
	v, _, _ := r.inflight.Do(key, func() (any, error) {
		items, patNo, runErr := r.run(ctx, clientID, req, start)
		return &runOutcome{
			leaderClient:  clientID,
			leaderRequest: req.RequestID,
			patNo:         patNo,
			items:         items,
			err:           runErr,
		}, nil
	})
	out := v.(*runOutcome)
	if out.leaderClient != clientID || out.leaderRequest != req.RequestID {
		r.replay(clientID, req.RequestID, out, time.Since(start).Seconds())
	}
	return out.items, out.err
}

// replay notifies a caller whose request joined another terminal's
// in-flight run. Its session saw none of the leader's frames, so it gets
// its own terminal snapshot or error notification here.
func (r *Relay) replay(clientID, requestID string, out *runOutcome, elapsed float64) {
	switch {
	case out.err == nil:
		r.push(clientID, requestID, out.items, elapsed, out.patNo, false, true)
		if len(out.items) == 0 {
			r.sender.SendError(clientID, datatypes.ErrCodeStreamEmpty,
				"AI stream returned no recommendations",
				"check the upstream stream format and fields")
		}
	case errors.Is(out.err, resolver.ErrContextNotFound):
		r.sender.SendError(clientID, datatypes.ErrCodeContextNotFound,
			"no patient record found", "make sure the HIS has pushed the patient context")
	default:
		r.push(clientID, requestID, nil, elapsed, out.patNo, false, true)
		r.sender.SendError(clientID, datatypes.ErrCodeServerError,
			"AI service call failed", out.err.Error())
	}
}

// gate applies the role check plus the operator kill switch.
func (r *Relay) gate(ctx context.Context, clientID string) (bool, error) {
	disabled, err := r.outcomes.IsClientDisabled(ctx, clientID)
	if err != nil {
		return true, err
	}
	if disabled {
		return false, nil
	}
	return r.outcomes.IsClientAllowed(ctx, clientID)
}

func (r *Relay) run(ctx context.Context, clientID string, req datatypes.RecommendRequest, start time.Time) ([]datatypes.RecommendationItem, string, error) {
	traceID := r.tracker.StartTrace(ctx, req.RequestID, clientID)

	resolveSpan := r.tracker.StartSpan(ctx, traceID, "", "resolve_context", "", "")
	resolved, err := r.resolver.Resolve(ctx, req.PatientID, req.VisitID, req.DoctorID)
	if err != nil {
		r.tracker.FinishSpan(ctx, resolveSpan, tracker.StatusFailed, "", err.Error())
		r.tracker.FinishTrace(ctx, traceID, tracker.StatusFailed)
		if errors.Is(err, resolver.ErrContextNotFound) {
			r.sender.SendError(clientID, datatypes.ErrCodeContextNotFound,
				"no patient record found", "make sure the HIS has pushed the patient context")
			observability.CountRelay("no_context", time.Since(start).Seconds())
		} else {
			r.sender.SendError(clientID, datatypes.ErrCodeServerError, "internal error", err.Error())
			observability.CountRelay("failed", time.Since(start).Seconds())
		}
		return nil, "", err
	}
	r.tracker.FinishSpan(ctx, resolveSpan, tracker.StatusSuccess,
		fmt.Sprintf(`{"tier":%d,"message_id":%q}`, resolved.Tier, resolved.Record.MessageID), "")

	items, err := r.stream(ctx, traceID, clientID, req, resolved, start)
	elapsed := time.Since(start)

	if err != nil {
		// The terminal still gets a terminal snapshot so it can stop
		// waiting, then the error notification.
		r.push(clientID, req.RequestID, nil, elapsed.Seconds(), resolved.Message.PatNo, false, true)
		r.sender.SendError(clientID, datatypes.ErrCodeServerError, "AI service call failed", err.Error())
		r.recordOutcome(clientID, req, resolved, nil, elapsed, err)
		r.tracker.FinishTrace(ctx, traceID, tracker.StatusFailed)
		observability.CountRelay("failed", elapsed.Seconds())
		return nil, resolved.Message.PatNo, err
	}

	r.push(clientID, req.RequestID, items, elapsed.Seconds(), resolved.Message.PatNo, false, true)
	if len(items) == 0 {
		r.sender.SendError(clientID, datatypes.ErrCodeStreamEmpty,
			"AI stream returned no recommendations",
			"check the upstream stream format and fields")
	}
	r.recordOutcome(clientID, req, resolved, items, elapsed, nil)
	r.tracker.FinishTrace(ctx, traceID, tracker.StatusSuccess)
	observability.CountRelay("success", elapsed.Seconds())

	r.log.Info("relay complete",
		"request_id", req.RequestID,
		"client_id", clientID,
		"count", len(items),
		"elapsed", elapsed.Round(time.Millisecond))
	return items, resolved.Message.PatNo, nil
}

// stream opens the upstream call and aggregates its response, pushing a
// partial snapshot to the terminal after every applied fragment.
func (r *Relay) stream(ctx context.Context, traceID, clientID string, req datatypes.RecommendRequest, resolved *resolver.Resolved, start time.Time) ([]datatypes.RecommendationItem, error) {
	aiReq := aiclient.BuildRequest(r.cfg, resolved.Message)
	reqJSON, _ := json.Marshal(aiReq)
	span := r.tracker.StartSpan(ctx, traceID, "", "ai_stream_call", r.cfg.Endpoint, string(reqJSON))

	resp, err := r.client.Open(ctx, aiReq)
	if err != nil {
		r.tracker.FinishSpan(ctx, span, tracker.StatusFailed, "", err.Error())
		return nil, err
	}

	fragments := 0
	agg := aiclient.NewAggregator()
	out, err := agg.Consume(ctx, resp, func(items []datatypes.RecommendationItem) {
		fragments++
		r.push(clientID, req.RequestID, items, time.Since(start).Seconds(), resolved.Message.PatNo, true, false)
	})
	observability.ObserveStreamFragments(fragments)
	if err != nil {
		r.tracker.FinishSpan(ctx, span, tracker.StatusFailed, "", err.Error())
		return nil, err
	}

	if out.Err != nil {
		r.sender.SendError(clientID, datatypes.ErrCodeUpstreamJSON,
			"AI service returned an error", out.Err.Message)
	}
	r.tracker.FinishSpan(ctx, span, tracker.StatusSuccess,
		fmt.Sprintf(`{"count":%d,"mode":%q}`, len(out.Items), out.Mode), "")
	return out.Items, nil
}

// push sends one recommendation snapshot. Send failures are already logged
// and handled by the registry; the stream keeps running so the outcome is
// still recorded.
func (r *Relay) push(clientID, requestID string, items []datatypes.RecommendationItem, elapsed float64, patNo string, partial, finish bool) {
	if items == nil {
		items = []datatypes.RecommendationItem{}
	}
	r.sender.Send(clientID, datatypes.MessageTypeAIRecommendation, datatypes.RecommendationData{
		RequestID:       requestID,
		Recommendations: items,
		TotalCount:      len(items),
		ProcessingTime:  roundSeconds(elapsed),
		AIService:       r.cfg.ServiceName,
		PatNo:           patNo,
		Partial:         partial,
		Finish:          finish,
	})
}

// recordOutcome persists the recommendation log, session aggregate entry
// and accounting row. Every write is best effort: bookkeeping must not turn
// a delivered recommendation into a failure.
func (r *Relay) recordOutcome(clientID string, req datatypes.RecommendRequest, resolved *resolver.Resolved, items []datatypes.RecommendationItem, elapsed time.Duration, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, errMsg, summary := "success", "", ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
		summary = runErr.Error()
	}

	recJSON, _ := json.Marshal(items)
	reqJSON, _ := json.Marshal(aiclient.BuildRequest(r.cfg, resolved.Message))
	err := r.outcomes.SaveRecommendationLog(ctx, &models.AiRecommendationLog{
		RequestID:       req.RequestID,
		ClientID:        clientID,
		PatNo:           resolved.Message.PatNo,
		AdmID:           resolved.Message.AdmID,
		UserCode:        req.DoctorID,
		DeptCode:        resolved.Message.DeptCode,
		HisPushLogID:    resolved.Record.ID,
		AiRequestData:   string(reqJSON),
		Recommendations: string(recJSON),
		ProcessingTime:  roundSeconds(elapsed.Seconds()),
		AiServiceURL:    r.client.URL(),
		SessionID:       resolved.Message.AdmID,
		Status:          status,
		ErrorMessage:    errMsg,
	})
	if err != nil {
		r.log.Warn("recommendation log persist failed", "request_id", req.RequestID, "error", err)
	}

	sess, err := r.outcomes.EnsureSession(ctx, resolved.Message.PatNo, resolved.Message.AdmID, req.DoctorID, time.Now())
	if err != nil {
		r.log.Warn("session aggregate failed", "request_id", req.RequestID, "error", err)
	} else if err := r.outcomes.AppendSessionRecord(ctx, sess.ID, req.RequestID, summary); err != nil {
		r.log.Warn("session record failed", "request_id", req.RequestID, "error", err)
	}

	if err := r.outcomes.SaveServiceCall(ctx, &models.ServiceCall{
		RequestID:    req.RequestID,
		ClientID:     clientID,
		Status:       status,
		DurationMs:   elapsed.Milliseconds(),
		ErrorMessage: errMsg,
	}); err != nil {
		r.log.Warn("service call persist failed", "request_id", req.RequestID, "error", err)
	}
}

func roundSeconds(s float64) float64 {
	return float64(int64(s*100+0.5)) / 100
}
