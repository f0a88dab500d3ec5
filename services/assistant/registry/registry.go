// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry tracks live clinician terminal connections. The registry
// is the only holder of socket references; everything else addresses
// terminals by client id.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
)

// Conn is the write side of one terminal socket. *websocket.Conn satisfies
// it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// StatusSink receives registry lifecycle events for async persistence.
// Sink failures are logged and never affect the live map.
type StatusSink interface {
	MarkConnected(ctx context.Context, clientID, doctorID, doctorName, ip string) error
	MarkDisconnected(ctx context.Context, clientID string) error
	TouchHeartbeat(ctx context.Context, clientID string) error
}

type session struct {
	clientID string
	doctorID string
	conn     Conn

	// writeMu serializes frames to one socket; gorilla/websocket allows
	// only one concurrent writer.
	writeMu sync.Mutex
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry is a concurrency-safe map from client id to live session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	sink StatusSink
	log  *slog.Logger
}

// New builds an empty registry. sink may be nil.
func New(sink StatusSink, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*session),
		sink:     sink,
		log:      log,
	}
}

// Register adds a terminal under its client id. A duplicate id supersedes:
// the previous socket is closed and replaced, so a reconnecting terminal
// never fights its own stale session.
func (r *Registry) Register(clientID, doctorID, doctorName, ip string, conn Conn) {
	r.mu.Lock()
	prev := r.sessions[clientID]
	r.sessions[clientID] = &session{clientID: clientID, doctorID: doctorID, conn: conn}
	r.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
		r.log.Info("superseded stale session", "client_id", clientID)
	}
	r.log.Info("client registered", "client_id", clientID, "doctor_id", doctorID, "ip", ip)
	r.persist(func(ctx context.Context) error {
		return r.sink.MarkConnected(ctx, clientID, doctorID, doctorName, ip)
	})
}

// Unregister removes a terminal and closes its socket. Removing an unknown
// id is a no-op; a reconnect that already superseded this session is left
// alone.
func (r *Registry) Unregister(clientID string, conn Conn) {
	r.mu.Lock()
	cur, ok := r.sessions[clientID]
	if ok && (conn == nil || cur.conn == conn) {
		delete(r.sessions, clientID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = cur.conn.Close()
	r.log.Info("client unregistered", "client_id", clientID)
	r.persist(func(ctx context.Context) error {
		return r.sink.MarkDisconnected(ctx, clientID)
	})
}

// Send delivers one typed payload to a terminal, wrapped in a fresh
// envelope. Returns false when the terminal is absent or the write fails;
// a failed write also drops the session, since the socket is dead.
func (r *Registry) Send(clientID string, msgType datatypes.MessageType, payload any) bool {
	r.mu.RLock()
	sess, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	env, err := datatypes.NewEnvelope(msgType, payload)
	if err != nil {
		r.log.Error("envelope encode failed", "client_id", clientID, "type", msgType, "error", err)
		return false
	}
	if err := sess.writeJSON(env); err != nil {
		r.log.Warn("send failed, dropping session", "client_id", clientID, "type", msgType, "error", err)
		r.Unregister(clientID, sess.conn)
		return false
	}
	return true
}

// SendError pushes a structured error frame to a terminal.
func (r *Registry) SendError(clientID, code, message, details string) bool {
	return r.Send(clientID, datatypes.MessageTypeError, datatypes.ErrorData{
		ErrorCode:    code,
		ErrorMessage: message,
		Details:      details,
	})
}

// Heartbeat answers a terminal ping and refreshes its liveness timestamp.
func (r *Registry) Heartbeat(clientID string) bool {
	ok := r.Send(clientID, datatypes.MessageTypeHeartbeat, datatypes.HeartbeatData{Status: "alive"})
	if ok {
		r.persist(func(ctx context.Context) error {
			return r.sink.TouchHeartbeat(ctx, clientID)
		})
	}
	return ok
}

// Broadcast sends one payload to every connected terminal except those in
// exclude. Returns the number of successful deliveries; individual failures
// drop only the failing session.
func (r *Registry) Broadcast(msgType datatypes.MessageType, payload any, exclude map[string]bool) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		if !exclude[id] {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if r.Send(id, msgType, payload) {
			sent++
		}
	}
	return sent
}

// IsConnected reports whether a terminal is currently registered.
func (r *Registry) IsConnected(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[clientID]
	return ok
}

// ClientInfo is one row in the live connection snapshot.
type ClientInfo struct {
	ClientID string `json:"client_id"`
	DoctorID string `json:"doctor_id"`
}

// ListConnected snapshots the live map.
func (r *Registry) ListConnected() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, ClientInfo{ClientID: sess.clientID, DoctorID: sess.doctorID})
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// persist runs one sink call off the hot path with a short deadline.
func (r *Registry) persist(fn func(context.Context) error) {
	if r.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.log.Warn("connection status persist failed", "error", err)
		}
	}()
}
