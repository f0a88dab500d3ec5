// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/observability"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/relay"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/resolver"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
)

// ProxyRequest is the synchronous recommendation request body.
type ProxyRequest struct {
	RequestID     string `json:"request_id" binding:"required"`
	ClientID      string `json:"client_id" binding:"required"`
	PatientID     string `json:"patient_id" binding:"required"`
	VisitID       string `json:"visit_id"`
	DoctorID      string `json:"doctor_id" binding:"required"`
	UseCachedData bool   `json:"use_cached_data"`
}

// HandleAIProxy serves the synchronous recommendation path: terminals that
// cannot hold a socket open post here and get the terminal item list back.
// Results are still mirrored to the terminal's session when one is live,
// and a fresh recent result can be answered from cache.
func HandleAIProxy(cfg config.AIServiceConfig, cacheWindow time.Duration, st *store.Store, rel *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProxyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code": 400, "message": "incomplete request", "error": err.Error(),
			})
			return
		}

		if req.UseCachedData {
			items, err := st.GetCachedRecommendations(c.Request.Context(), req.PatientID, req.VisitID, cacheWindow)
			if err == nil {
				observability.CountRelay("cached", 0)
				c.JSON(http.StatusOK, proxyResponse(cfg, req, items, 0.1, "ok (cached)"))
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{
					"code": 500, "message": "internal error", "error": err.Error(),
				})
				return
			}
		}

		items, err := rel.Execute(c.Request.Context(), req.ClientID, datatypes.RecommendRequest{
			RequestID: req.RequestID,
			PatientID: req.PatientID,
			VisitID:   req.VisitID,
			DoctorID:  req.DoctorID,
		})
		if err != nil {
			status, code, msg := classifyRelayError(err)
			c.JSON(status, gin.H{"code": code, "message": msg, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, proxyResponse(cfg, req, items, 0, "ok"))
	}
}

func classifyRelayError(err error) (int, int, string) {
	switch {
	case errors.Is(err, relay.ErrIncompleteRequest):
		return http.StatusBadRequest, 400, "incomplete request"
	case errors.Is(err, relay.ErrPermissionDenied):
		return http.StatusForbidden, 403, "client not permitted"
	case errors.Is(err, resolver.ErrContextNotFound):
		return http.StatusNotFound, 404, "no patient record found"
	default:
		return http.StatusInternalServerError, 500, "AI service call failed"
	}
}

func proxyResponse(cfg config.AIServiceConfig, req ProxyRequest, items []datatypes.RecommendationItem, elapsed float64, message string) gin.H {
	if items == nil {
		items = []datatypes.RecommendationItem{}
	}
	return gin.H{
		"code":    200,
		"message": message,
		"data": gin.H{
			"request_id":      req.RequestID,
			"recommendations": items,
			"total_count":     len(items),
			"processing_time": elapsed,
			"ai_service":      cfg.ServiceName,
			"session_id":      req.VisitID,
		},
	}
}
