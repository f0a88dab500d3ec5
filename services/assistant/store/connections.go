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

	"gorm.io/gorm/clause"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// MarkConnected upserts the connection row for a client on register.
func (s *Store) MarkConnected(ctx context.Context, clientID, doctorID, doctorName, ip string) error {
	now := time.Now()
	rec := models.ClientConnection{
		ClientID:         clientID,
		DoctorID:         doctorID,
		DoctorName:       doctorName,
		ConnectionStatus: "connected",
		IPAddress:        ip,
		ConnectedAt:      &now,
		LastHeartbeat:    &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"doctor_id", "doctor_name", "connection_status", "ip_address",
			"connected_at", "last_heartbeat", "disconnected_at", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark connected %s: %w", clientID, err)
	}
	return nil
}

// MarkDisconnected records the unregister time for a client.
func (s *Store) MarkDisconnected(ctx context.Context, clientID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.ClientConnection{}).
		Where("client_id = ?", clientID).
		Updates(map[string]any{"connection_status": "disconnected", "disconnected_at": &now}).Error
	if err != nil {
		return fmt.Errorf("mark disconnected %s: %w", clientID, err)
	}
	return nil
}

// TouchHeartbeat advances the last-heartbeat timestamp.
func (s *Store) TouchHeartbeat(ctx context.Context, clientID string) error {
	err := s.db.WithContext(ctx).Model(&models.ClientConnection{}).
		Where("client_id = ?", clientID).
		Update("last_heartbeat", time.Now()).Error
	if err != nil {
		return fmt.Errorf("touch heartbeat %s: %w", clientID, err)
	}
	return nil
}

// IsClientDisabled reports the operator kill switch for a client. Unknown
// clients are not disabled.
func (s *Store) IsClientDisabled(ctx context.Context, clientID string) (bool, error) {
	var rec models.ClientConnection
	err := s.db.WithContext(ctx).Select("disabled").
		Where("client_id = ?", clientID).First(&rec).Error
	if err != nil {
		if err := notFound(err); err == ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("disabled lookup %s: %w", clientID, err)
	}
	return rec.Disabled, nil
}

// SetClientDisabled flips the operator kill switch.
func (s *Store) SetClientDisabled(ctx context.Context, clientID string, disabled bool) error {
	err := s.db.WithContext(ctx).Model(&models.ClientConnection{}).
		Where("client_id = ?", clientID).
		Update("disabled", disabled).Error
	if err != nil {
		return fmt.Errorf("set disabled %s: %w", clientID, err)
	}
	return nil
}

// FindClientByUserInfo maps a HIS push to a target terminal: the most
// recently connected client matching the doctor's workstation IP and user
// code. Returns ErrNotFound when no connected client matches.
func (s *Store) FindClientByUserInfo(ctx context.Context, ip, doctorID string) (string, error) {
	var rec models.ClientConnection
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND doctor_id = ? AND connection_status = ?", ip, doctorID, "connected").
		Order("connected_at DESC").
		First(&rec).Error
	if err != nil {
		if err := notFound(err); err == ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find client %s/%s: %w", ip, doctorID, err)
	}
	return rec.ClientID, nil
}

// MarkStaleConnections flips connected rows whose heartbeat is older than
// the cutoff to disconnected. Returns the number flipped.
func (s *Store) MarkStaleConnections(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.ClientConnection{}).
		Where("connection_status = ? AND last_heartbeat < ?", "connected", cutoff).
		Updates(map[string]any{"connection_status": "disconnected", "disconnected_at": &now})
	if res.Error != nil {
		return 0, fmt.Errorf("mark stale connections: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListConnections pages connection rows, newest activity first.
func (s *Store) ListConnections(ctx context.Context, status string, page, size int) ([]models.ClientConnection, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ClientConnection{})
	if status != "" {
		q = q.Where("connection_status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count connections: %w", err)
	}
	var recs []models.ClientConnection
	err := q.Order("updated_at DESC").Offset((page - 1) * size).Limit(size).Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list connections: %w", err)
	}
	return recs, total, nil
}
