// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// SaveRecommendationLog records the outcome of one relay request.
func (s *Store) SaveRecommendationLog(ctx context.Context, rec *models.AiRecommendationLog) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save recommendation log %s: %w", rec.RequestID, err)
	}
	return nil
}

// GetCachedRecommendations returns the newest successful result for the
// patient+visit pair within the window, or ErrNotFound. A row whose stored
// item list fails to decode is treated as a miss.
func (s *Store) GetCachedRecommendations(ctx context.Context, patNo, admID string, window time.Duration) ([]datatypes.RecommendationItem, error) {
	var rec models.AiRecommendationLog
	err := s.db.WithContext(ctx).
		Where("pat_no = ? AND adm_id = ? AND status = ?", patNo, admID, "success").
		Where("created_at >= ?", time.Now().Add(-window)).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if err := notFound(err); err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cached recommendations %s/%s: %w", patNo, admID, err)
	}
	var items []datatypes.RecommendationItem
	if err := json.Unmarshal([]byte(rec.Recommendations), &items); err != nil || len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}

// SaveServiceCall records one accounting row. Best effort at call sites.
func (s *Store) SaveServiceCall(ctx context.Context, call *models.ServiceCall) error {
	if err := s.db.WithContext(ctx).Create(call).Error; err != nil {
		return fmt.Errorf("save service call %s: %w", call.RequestID, err)
	}
	return nil
}

// SessionKey builds the per-day aggregate key for a patient.
func SessionKey(patNo string, t time.Time) string {
	return patNo + "#" + t.Format("20060102")
}

// EnsureSession returns today's session aggregate for the patient, creating
// it when absent. Concurrent creators race on the unique key; the loser
// re-reads the winner's row.
func (s *Store) EnsureSession(ctx context.Context, patNo, admID, doctorID string, now time.Time) (*models.AiSession, error) {
	key := SessionKey(patNo, now)
	var sess models.AiSession
	err := s.db.WithContext(ctx).Where("session_key = ?", key).First(&sess).Error
	if err == nil {
		return &sess, nil
	}
	if err := notFound(err); err != ErrNotFound {
		return nil, fmt.Errorf("find session %s: %w", key, err)
	}
	sess = models.AiSession{
		SessionKey:     key,
		PatientID:      patNo,
		VisitID:        admID,
		DoctorID:       doctorID,
		Status:         "active",
		LastActiveTime: &now,
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		var again models.AiSession
		if e2 := s.db.WithContext(ctx).Where("session_key = ?", key).First(&again).Error; e2 == nil {
			return &again, nil
		}
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}
	return &sess, nil
}

// AppendSessionRecord adds one entry to a session aggregate and bumps its
// last-active time.
func (s *Store) AppendSessionRecord(ctx context.Context, sessionID, requestID, summary string) error {
	rec := models.AiSessionRecord{SessionID: sessionID, RequestID: requestID, Summary: summary}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append session record %s: %w", requestID, err)
	}
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.AiSession{}).
		Where("id = ?", sessionID).
		Update("last_active_time", &now).Error
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// CloseStaleSessions marks active sessions idle past the cutoff as closed.
// Returns the number of sessions closed.
func (s *Store) CloseStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.AiSession{}).
		Where("status = ? AND (last_active_time < ? OR (last_active_time IS NULL AND created_at < ?))",
			"active", cutoff, cutoff).
		Update("status", "closed")
	if res.Error != nil {
		return 0, fmt.Errorf("close stale sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListRecommendationLogs pages relay outcomes, newest first, optionally
// filtered by patient.
func (s *Store) ListRecommendationLogs(ctx context.Context, patNo string, page, size int) ([]models.AiRecommendationLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AiRecommendationLog{})
	if patNo != "" {
		q = q.Where("pat_no = ?", patNo)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count recommendation logs: %w", err)
	}
	var recs []models.AiRecommendationLog
	err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list recommendation logs: %w", err)
	}
	return recs, total, nil
}

// ListSessions pages session aggregates with their records preloaded.
func (s *Store) ListSessions(ctx context.Context, patNo string, page, size int) ([]models.AiSession, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AiSession{})
	if patNo != "" {
		q = q.Where("patient_id = ?", patNo)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	var recs []models.AiSession
	err := q.Preload("Records").Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return recs, total, nil
}
