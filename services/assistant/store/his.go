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
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// SaveHisPushLog records one inbound CDSS push.
func (s *Store) SaveHisPushLog(ctx context.Context, rec *models.HisPushLog) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save his push log %s: %w", rec.MessageID, err)
	}
	return nil
}

// UpdatePushStatus flips the delivery outcome on an already saved push log.
func (s *Store) UpdatePushStatus(ctx context.Context, messageID, status, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&models.HisPushLog{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{"push_status": status, "error_message": errMsg}).Error
	if err != nil {
		return fmt.Errorf("update push status %s: %w", messageID, err)
	}
	return nil
}

// FindRecentContext locates the clinical context for a recommendation
// request. Three passes, strictest first, each taking the newest matching
// push:
//
//  1. patient + requesting doctor
//  2. patient + visit (skipped when the visit id is empty)
//  3. requesting doctor alone, limited to the window
//
// Only the last pass is time-limited; a precise patient match stays valid
// however old it is. The third pass can cross patients when one doctor
// handles several in quick succession; callers surface which tier matched.
func (s *Store) FindRecentContext(ctx context.Context, patientID, visitID, doctorID string, window time.Duration) (*models.HisPushLog, int, error) {
	queries := []struct {
		tier int
		cond *gorm.DB
	}{
		{1, s.db.Where("pat_no = ? AND user_code = ?", patientID, doctorID)},
		{2, s.db.Where("pat_no = ? AND adm_id = ?", patientID, visitID)},
		{3, s.db.Where("user_code = ? AND created_at >= ?", doctorID, time.Now().Add(-window))},
	}
	for _, q := range queries {
		if q.tier == 2 && visitID == "" {
			continue
		}
		var rec models.HisPushLog
		err := s.db.WithContext(ctx).
			Where(q.cond).
			Order("created_at DESC").
			First(&rec).Error
		if err == nil {
			return &rec, q.tier, nil
		}
		if err := notFound(err); err != ErrNotFound {
			return nil, 0, fmt.Errorf("find context tier %d: %w", q.tier, err)
		}
	}
	return nil, 0, ErrNotFound
}

// ListHisPushLogs pages the push history, newest first, optionally filtered
// by patient.
func (s *Store) ListHisPushLogs(ctx context.Context, patNo string, page, size int) ([]models.HisPushLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.HisPushLog{})
	if patNo != "" {
		q = q.Where("pat_no = ?", patNo)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count his push logs: %w", err)
	}
	var recs []models.HisPushLog
	err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list his push logs: %w", err)
	}
	return recs, total, nil
}
