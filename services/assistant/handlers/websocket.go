// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers wires the HTTP and WebSocket surface onto the relay
// components.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/observability"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/registry"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleClientWebSocket upgrades a terminal connection and runs its read
// loop. Client ids follow client_{deptCode}_{userCode}; the trailing
// segment identifies the doctor.
func HandleClientWebSocket(reg *registry.Registry, rel *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Param("client_id")
		if clientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "client_id required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "client_id", clientID, "error", err)
			return
		}

		doctorID := doctorFromClientID(clientID)
		reg.Register(clientID, doctorID, "", c.ClientIP(), ws)
		observability.SetWSConnections(reg.Count())
		// Connection acknowledgment: the first frame a terminal reads.
		reg.Heartbeat(clientID)
		defer func() {
			reg.Unregister(clientID, ws)
			observability.SetWSConnections(reg.Count())
		}()

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("websocket read failed", "client_id", clientID, "error", err)
				}
				return
			}

			var env datatypes.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				reg.SendError(clientID, datatypes.ErrCodeBadMessage, "malformed message", "JSON parse failed")
				continue
			}

			msg, err := datatypes.DecodeInbound(env)
			if err != nil {
				if errors.Is(err, datatypes.ErrUnknownMessageType) {
					reg.SendError(clientID, datatypes.ErrCodeUnsupportedType,
						"unsupported message type", string(env.Type))
				} else {
					reg.SendError(clientID, datatypes.ErrCodeBadMessage, "malformed message", err.Error())
				}
				continue
			}

			dispatch(c, reg, rel, clientID, msg)
		}
	}
}

// dispatch handles one decoded inbound message. The recommendation path
// runs inline: a terminal gets its stream before the next request is read,
// matching the one-request-at-a-time interaction model.
func dispatch(c *gin.Context, reg *registry.Registry, rel *relay.Relay, clientID string, msg datatypes.InboundMessage) {
	// A failure while handling one message must not tear down the session;
	// the terminal is told the message failed and the read loop continues.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message handling panicked", "client_id", clientID, "panic", rec)
			reg.SendError(clientID, datatypes.ErrCodeMessageFailed,
				"message handling failed", fmt.Sprint(rec))
		}
	}()

	switch m := msg.(type) {
	case datatypes.HeartbeatRequest:
		reg.Heartbeat(clientID)
	case datatypes.RecommendRequest:
		if _, err := rel.Execute(c.Request.Context(), clientID, m); err != nil {
			// The relay already notified the terminal; nothing further to
			// send here.
			slog.Warn("recommendation relay failed",
				"client_id", clientID, "request_id", m.RequestID, "error", err)
		}
	case datatypes.Ack:
		slog.Debug("ack received", "client_id", clientID, "original_id", m.OriginalMessageID)
	}
}

func doctorFromClientID(clientID string) string {
	parts := strings.Split(clientID, "_")
	return parts[len(parts)-1]
}

// HandleConnectedClients lists the live sessions, a debug surface for
// integration work.
func HandleConnectedClients(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		clients := reg.ListConnected()
		c.JSON(http.StatusOK, gin.H{
			"code":    200,
			"message": "ok",
			"data": gin.H{
				"total_connections": len(clients),
				"clients":           clients,
			},
		})
	}
}
