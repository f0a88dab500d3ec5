// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models defines the GORM persistence models for the assistant
// platform: connection status, HIS push records, recommendation outcomes,
// per-day session aggregates, traces/spans, and the permission tables.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&ClientConnection{},
		&HisPushLog{},
		&AiRecommendationLog{},
		&ServiceCall{},
		&AiSession{},
		&AiSessionRecord{},
		&TraceRecord{},
		&SpanRecord{},
		&Role{},
		&RoleServiceAcl{},
		&ClientRoleBinding{},
		&SystemLog{},
	}
}

// ClientConnection mirrors the live registry into the database so operators
// can see who is (or was) connected. Updated asynchronously; never read on
// the send path.
type ClientConnection struct {
	ID               string `gorm:"size:36;primaryKey"`
	ClientID         string `gorm:"size:50;uniqueIndex;not null"`
	DoctorID         string `gorm:"size:50;not null"`
	DoctorName       string `gorm:"size:100"`
	ConnectionStatus string `gorm:"size:20;default:connected;index"`
	IPAddress        string `gorm:"size:45;index:idx_conn_ip_doctor"`
	Disabled         bool   `gorm:"default:false"`
	ConnectedAt      *time.Time
	LastHeartbeat    *time.Time
	DisconnectedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c *ClientConnection) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// HisPushLog is one CDSS push from the HIS: the clinical-context record the
// resolver later matches against. ItemData holds the scene payload as JSON
// text exactly as received.
type HisPushLog struct {
	ID           string `gorm:"size:36;primaryKey"`
	MessageID    string `gorm:"size:50;uniqueIndex;not null"`
	SystemID     string `gorm:"size:50;not null"`
	SceneType    string `gorm:"size:20;default:EXAM001"`
	State        int    `gorm:"default:0"`
	PatNo        string `gorm:"size:50;not null;index:idx_his_pat_user;index:idx_his_pat_adm"`
	PatName      string `gorm:"size:100"`
	AdmID        string `gorm:"size:50;not null;index:idx_his_pat_adm"`
	VisitType    string `gorm:"size:10"`
	DeptCode     string `gorm:"size:20"`
	DeptDesc     string `gorm:"size:100"`
	HospCode     string `gorm:"size:50"`
	HospDesc     string `gorm:"size:100"`
	UserIP       string `gorm:"size:45"`
	UserCode     string `gorm:"size:50;index:idx_his_pat_user;index"`
	UserName     string `gorm:"size:100"`
	MsgTime      *time.Time
	Remark       string    `gorm:"type:text"`
	ItemData     string    `gorm:"type:text"`
	ClientID     string    `gorm:"size:50"`
	PushStatus   string    `gorm:"size:20;default:success"`
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

func (h *HisPushLog) BeforeCreate(*gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}

// AiRecommendationLog is the persisted outcome of one relay request, success
// or failure. Recommendations holds the final item list as JSON text; the
// 5-minute result cache is a recency query over successful rows.
type AiRecommendationLog struct {
	ID              string `gorm:"size:36;primaryKey"`
	RequestID       string `gorm:"size:50;uniqueIndex;not null"`
	ClientID        string `gorm:"size:50;not null"`
	PatNo           string `gorm:"size:50;not null;index:idx_ai_pat_adm"`
	AdmID           string `gorm:"size:50;not null;index:idx_ai_pat_adm"`
	UserCode        string `gorm:"size:50;not null"`
	DeptCode        string `gorm:"size:20"`
	HisPushLogID    string `gorm:"size:36"`
	AiRequestData   string `gorm:"type:text"`
	Recommendations string `gorm:"type:text"`
	ProcessingTime  float64
	AiServiceURL    string    `gorm:"size:200"`
	SessionID       string    `gorm:"size:50"`
	Status          string    `gorm:"size:20;default:success;index"`
	ErrorMessage    string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index"`
}

func (a *AiRecommendationLog) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// ServiceCall is one accounting row per relay request, used for usage
// statistics independent of the full recommendation log.
type ServiceCall struct {
	ID           string `gorm:"size:36;primaryKey"`
	RequestID    string `gorm:"size:50;index"`
	ClientID     string `gorm:"size:50;index"`
	Status       string `gorm:"size:20"`
	DurationMs   int64
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

func (s *ServiceCall) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// AiSession aggregates one patient's relay requests for one calendar day.
// SessionKey is patNo#YYYYMMDD. Created lazily, closed only by retention.
type AiSession struct {
	ID             string `gorm:"size:36;primaryKey"`
	SessionKey     string `gorm:"size:80;uniqueIndex;not null"`
	PatientID      string `gorm:"size:50;not null;index"`
	VisitID        string `gorm:"size:50"`
	DoctorID       string `gorm:"size:50"`
	Status         string `gorm:"size:20;default:active;index"`
	LastActiveTime *time.Time
	CreatedAt      time.Time

	Records []AiSessionRecord `gorm:"foreignKey:SessionID"`
}

func (s *AiSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// AiSessionRecord is one chronologically appended entry in a session
// aggregate: the request id plus a short summary (the failure message on
// failed requests, empty on success).
type AiSessionRecord struct {
	ID        string `gorm:"size:36;primaryKey"`
	SessionID string `gorm:"size:36;not null;index"`
	RequestID string `gorm:"size:50"`
	Summary   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (r *AiSessionRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// TraceRecord is the correlation identifier for one external request.
// Duration and end time are written once, on finalize.
type TraceRecord struct {
	ID              string `gorm:"size:36;primaryKey"`
	TraceID         string `gorm:"size:64;uniqueIndex;not null"`
	RequestID       string `gorm:"size:50;index"`
	ClientID        string `gorm:"size:50"`
	ServiceName     string `gorm:"size:64"`
	StartTime       time.Time
	EndTime         *time.Time
	TotalDurationMs int64
	Status          string `gorm:"size:20;default:running"`
	CreatedAt       time.Time
}

func (t *TraceRecord) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// SpanRecord is one timed sub-operation under a trace.
type SpanRecord struct {
	ID           string `gorm:"size:36;primaryKey"`
	SpanID       string `gorm:"size:64;uniqueIndex;not null"`
	TraceID      string `gorm:"size:64;not null;index"`
	ParentSpanID string `gorm:"size:64"`
	ServiceName  string `gorm:"size:64"`
	SpanName     string `gorm:"size:100;not null"`
	ApiPath      string `gorm:"size:200"`
	StartTime    time.Time
	EndTime      *time.Time
	DurationMs   int64
	Status       string `gorm:"size:20;default:running"`
	RequestData  string `gorm:"type:text"`
	ResponseData string `gorm:"type:text"`
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (s *SpanRecord) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Role is a named permission group clients can be bound to.
type Role struct {
	ID        string `gorm:"size:36;primaryKey"`
	RoleName  string `gorm:"size:64;uniqueIndex;not null"`
	Remark    string `gorm:"size:200"`
	CreatedAt time.Time
}

func (r *Role) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RoleServiceAcl is one allow/deny rule attached to a role. The permission
// gate passes a bound client only if at least one of its roles has an allow
// rule.
type RoleServiceAcl struct {
	ID        string `gorm:"size:36;primaryKey"`
	RoleID    string `gorm:"size:36;not null;index"`
	ServiceID string `gorm:"size:64"`
	Allow     bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}

func (a *RoleServiceAcl) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// ClientRoleBinding attaches a role to a client identifier. A client with no
// bindings is allowed by default.
type ClientRoleBinding struct {
	ID        string `gorm:"size:36;primaryKey"`
	ClientID  string `gorm:"size:50;not null;index"`
	RoleID    string `gorm:"size:36;not null;index"`
	CreatedAt time.Time
}

func (b *ClientRoleBinding) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// SystemLog captures unexpected handler failures for the admin surface.
// Written best effort; a failed insert is logged and dropped.
type SystemLog struct {
	ID        string    `gorm:"size:36;primaryKey"`
	LogLevel  string    `gorm:"size:10;not null"`
	Module    string    `gorm:"size:50;not null"`
	Operation string    `gorm:"size:100;not null"`
	ClientID  string    `gorm:"size:50"`
	RequestID string    `gorm:"size:50"`
	Message   string    `gorm:"type:text;not null"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (s *SystemLog) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
