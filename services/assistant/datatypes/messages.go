// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire-level message formats exchanged with
// client terminals over WebSocket and with the HIS push interface.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags every envelope on the session wire.
type MessageType string

const (
	MessageTypeHeartbeat        MessageType = "heartbeat"
	MessageTypePatientData      MessageType = "patient_data"
	MessageTypeAIRecommendation MessageType = "ai_recommendation"
	MessageTypeError            MessageType = "error"

	// Inbound-only types.
	MessageTypeRecommendRequest MessageType = "ai_recommend_request"
	MessageTypeAck              MessageType = "ack"
)

// Envelope is the common frame for every session message in both directions:
// a type tag, a generated unique id, an ISO-8601 timestamp, and the payload.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope builds an outbound envelope around the given payload. The
// message id follows the msg_{date}_{suffix} convention so operators can
// eyeball ordering in raw logs.
func NewEnvelope(msgType MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	now := time.Now()
	return Envelope{
		Type:      msgType,
		ID:        fmt.Sprintf("msg_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		Timestamp: now.Format(time.RFC3339),
		Data:      data,
	}, nil
}

// ErrUnknownMessageType is returned by DecodeInbound for type tags outside
// the supported inbound set.
var ErrUnknownMessageType = errors.New("unsupported message type")

// InboundMessage is the closed set of messages a client may send. Handlers
// dispatch on the concrete type; the marker method keeps the union closed to
// this package.
type InboundMessage interface {
	inboundMessage()
}

// HeartbeatRequest is a client keepalive. The server answers with an
// outbound heartbeat and refreshes the session's last-activity time.
type HeartbeatRequest struct {
	Status string `json:"status"`
}

// RecommendRequest asks the relay to run one AI recommendation for the
// patient context previously pushed by the HIS.
type RecommendRequest struct {
	RequestID string `json:"requestId"`
	PatientID string `json:"patientId"`
	VisitID   string `json:"visitId"`
	DoctorID  string `json:"doctorId"`
}

// MissingFields reports which required identifiers are absent. A non-empty
// result maps to error code REQ_001 with no upstream call.
func (r RecommendRequest) MissingFields() []string {
	var missing []string
	if r.RequestID == "" {
		missing = append(missing, "requestId")
	}
	if r.PatientID == "" {
		missing = append(missing, "patientId")
	}
	if r.VisitID == "" {
		missing = append(missing, "visitId")
	}
	if r.DoctorID == "" {
		missing = append(missing, "doctorId")
	}
	return missing
}

// Ack confirms receipt of an earlier server message.
type Ack struct {
	OriginalMessageID string `json:"originalMessageId"`
}

func (HeartbeatRequest) inboundMessage() {}
func (RecommendRequest) inboundMessage() {}
func (Ack) inboundMessage()              {}

// DecodeInbound turns an inbound envelope into its typed payload. Unknown
// type tags return ErrUnknownMessageType; malformed payloads return the
// decode error so the caller can answer with a format-error notification.
func DecodeInbound(env Envelope) (InboundMessage, error) {
	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch env.Type {
	case MessageTypeHeartbeat:
		var m HeartbeatRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode heartbeat: %w", err)
		}
		return m, nil
	case MessageTypeRecommendRequest:
		var m RecommendRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode ai_recommend_request: %w", err)
		}
		return m, nil
	case MessageTypeAck:
		var m Ack
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
}

// HeartbeatData is the outbound heartbeat payload.
type HeartbeatData struct {
	Status string `json:"status"`
}

// ErrorData is the outbound error notification payload.
type ErrorData struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Details      string `json:"details,omitempty"`
}

// Error codes surfaced to sessions.
const (
	ErrCodeBadMessage       = "MSG_001" // undecodable inbound frame
	ErrCodeUnsupportedType  = "MSG_002" // inbound type outside the closed set
	ErrCodeMessageFailed    = "MSG_003" // inbound handling failed unexpectedly
	ErrCodeIncompleteReq    = "REQ_001" // missing required identifiers
	ErrCodeContextNotFound  = "REQ_404" // no matching clinical-context record
	ErrCodePermissionDenied = "AUTH_403"
	ErrCodeUpstreamJSON     = "AI_JSON_ERROR"   // upstream returned an error document
	ErrCodeStreamEmpty      = "AI_STREAM_EMPTY" // terminal item list was empty
	ErrCodeServerError      = "SRV_500"
)
