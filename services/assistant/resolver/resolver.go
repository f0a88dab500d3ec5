// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver reconnects an on-demand recommendation request with the
// clinical context the HIS pushed earlier.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
)

// ErrContextNotFound means no stored push matched any cascade tier. Maps to
// error code REQ_404 at the session boundary.
var ErrContextNotFound = errors.New("resolver: no recent clinical context")

// ContextStore is the slice of the store the resolver needs.
type ContextStore interface {
	FindRecentContext(ctx context.Context, patientID, visitID, doctorID string, window time.Duration) (*models.HisPushLog, int, error)
}

// Resolved is the reconstructed clinical context plus which cascade tier
// produced it.
type Resolved struct {
	Message datatypes.CDSSMessage
	Record  *models.HisPushLog
	Tier    int
}

// Resolver rebuilds CDSS messages from stored HIS pushes using a three-tier
// match cascade, strictest first.
type Resolver struct {
	store  ContextStore
	window time.Duration
	log    *slog.Logger
}

func New(store ContextStore, window time.Duration, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, window: window, log: log}
}

// Resolve finds the clinical context for a recommendation request. The
// third tier matches on the doctor alone and can return a different
// patient's context; that match is logged loudly so operators can spot
// cross-patient resolutions.
func (r *Resolver) Resolve(ctx context.Context, patientID, visitID, doctorID string) (*Resolved, error) {
	rec, tier, err := r.store.FindRecentContext(ctx, patientID, visitID, doctorID, r.window)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrContextNotFound
		}
		return nil, fmt.Errorf("resolve context: %w", err)
	}

	if tier == 3 && rec.PatNo != patientID {
		r.log.Warn("context resolved across patients",
			"requested_pat_no", patientID,
			"matched_pat_no", rec.PatNo,
			"doctor_id", doctorID,
			"message_id", rec.MessageID)
	}

	return &Resolved{
		Message: rebuildMessage(rec, r.log),
		Record:  rec,
		Tier:    tier,
	}, nil
}

// rebuildMessage reassembles the CDSS message from a stored row. The item
// payload is decoded tolerantly: a stored string/object mismatch or
// malformed JSON yields an empty scene payload rather than a failed
// resolution.
func rebuildMessage(rec *models.HisPushLog, log *slog.Logger) datatypes.CDSSMessage {
	msg := datatypes.CDSSMessage{
		SystemID:  rec.SystemID,
		SceneType: rec.SceneType,
		State:     rec.State,
		PatNo:     rec.PatNo,
		PatName:   rec.PatName,
		AdmID:     rec.AdmID,
		VisitType: rec.VisitType,
		DeptCode:  rec.DeptCode,
		DeptDesc:  rec.DeptDesc,
		HospCode:  rec.HospCode,
		HospDesc:  rec.HospDesc,
		UserIP:    rec.UserIP,
		UserCode:  rec.UserCode,
		UserName:  rec.UserName,
		Remark:    rec.Remark,
		ItemData:  decodeItemPayload(rec.ItemData, rec.MessageID, log),
	}
	if rec.MsgTime != nil {
		msg.MsgTime = rec.MsgTime.Format("2006-01-02 15:04:05")
	}
	return msg
}

// decodeItemPayload accepts the item payload as stored: usually a JSON
// object, sometimes a JSON string wrapping one. Anything undecodable is
// replaced by an empty payload with a warning.
func decodeItemPayload(raw, messageID string, log *slog.Logger) datatypes.ItemData {
	if raw == "" {
		return datatypes.ItemData{}
	}

	var item datatypes.ItemData
	if err := json.Unmarshal([]byte(raw), &item); err == nil {
		return item
	}

	var wrapped string
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		if err := json.Unmarshal([]byte(wrapped), &item); err == nil {
			return item
		}
	}

	log.Warn("undecodable item payload, using empty scene data", "message_id", messageID)
	return datatypes.ItemData{}
}
