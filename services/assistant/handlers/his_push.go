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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/observability"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/registry"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
)

// HandleHisPush receives one CDSS push from the HIS: validate the contract
// headers and body, locate the owning terminal by workstation IP and doctor
// code, persist the context, and forward the patient data over the session.
// A missing terminal is not an error; the context is stored for later
// on-demand requests.
func HandleHisPush(cfg config.HISConfig, st *store.Store, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceID := c.GetHeader("service_id"); serviceID != cfg.ServiceID {
			c.JSON(http.StatusBadRequest, gin.H{
				"code": 1001, "message": "service_id mismatch",
				"error": fmt.Sprintf("expected %s", cfg.ServiceID),
			})
			return
		}

		var msg datatypes.CDSSMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			code, detail := classifyBindError(err)
			c.JSON(http.StatusBadRequest, gin.H{
				"code": code, "message": "required field missing", "error": detail,
			})
			return
		}
		if msg.SceneType != "" && msg.SceneType != cfg.SceneType {
			c.JSON(http.StatusBadRequest, gin.H{
				"code": 1002, "message": "sceneType mismatch",
				"error": fmt.Sprintf("expected %s", cfg.SceneType),
			})
			return
		}

		messageID := fmt.Sprintf("his_%s_%s",
			time.Now().Format("20060102_150405"), uuid.NewString()[:8])

		// The owning terminal, if one is connected.
		clientID, err := st.FindClientByUserInfo(c.Request.Context(), msg.UserIP, msg.UserCode)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("client lookup failed", "message_id", messageID, "error", err)
		}
		if clientID == "" {
			slog.Warn("no terminal for push",
				"message_id", messageID, "user_ip", msg.UserIP, "user_code", msg.UserCode)
		}

		rec := pushLogFromMessage(messageID, clientID, msg)
		if err := st.SaveHisPushLog(c.Request.Context(), rec); err != nil {
			slog.Error("his push persist failed", "message_id", messageID, "error", err)
			st.WriteSystemLog(c.Request.Context(), &models.SystemLog{
				LogLevel:  "ERROR",
				Module:    "his_push",
				Operation: "receive_his_push",
				ClientID:  clientID,
				Message:   "persist failed: " + err.Error(),
			})
			observability.CountHisPush("rejected")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code": 500, "message": "internal error", "error": "failed to store the push",
			})
			return
		}

		outcome := "stored_only"
		if clientID != "" && reg.IsConnected(clientID) {
			if reg.Send(clientID, datatypes.MessageTypePatientData, datatypes.PatientDataFromCDSS(msg)) {
				outcome = "delivered"
			} else {
				if err := st.UpdatePushStatus(c.Request.Context(), messageID, "websocket_failed", "terminal send failed"); err != nil {
					slog.Warn("push status update failed", "message_id", messageID, "error", err)
				}
			}
		}
		observability.CountHisPush(outcome)

		slog.Info("his push processed",
			"message_id", messageID, "pat_no", msg.PatNo, "outcome", outcome)
		c.JSON(http.StatusOK, gin.H{
			"code":    200,
			"message": "message received",
			"data": gin.H{
				"messageId":     messageID,
				"timestamp":     time.Now().Format(time.RFC3339),
				"processStatus": "received",
			},
		})
	}
}

// classifyBindError maps validation failures onto the CDSS contract codes:
// 1004 for scene-payload fields, 1003 for everything else.
func classifyBindError(err error) (int, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		var fields []string
		code := 1003
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
			if strings.Contains(fe.Namespace(), "ItemData") {
				code = 1004
			}
		}
		return code, "missing: " + strings.Join(fields, ", ")
	}
	return 1003, err.Error()
}

func pushLogFromMessage(messageID, clientID string, msg datatypes.CDSSMessage) *models.HisPushLog {
	itemJSON, _ := json.Marshal(msg.ItemData)
	rec := &models.HisPushLog{
		MessageID:  messageID,
		SystemID:   msg.SystemID,
		SceneType:  msg.SceneType,
		State:      msg.State,
		PatNo:      msg.PatNo,
		PatName:    msg.PatName,
		AdmID:      msg.AdmID,
		VisitType:  msg.VisitType,
		DeptCode:   msg.DeptCode,
		DeptDesc:   msg.DeptDesc,
		HospCode:   msg.HospCode,
		HospDesc:   msg.HospDesc,
		UserIP:     msg.UserIP,
		UserCode:   msg.UserCode,
		UserName:   msg.UserName,
		Remark:     msg.Remark,
		ItemData:   string(itemJSON),
		ClientID:   clientID,
		PushStatus: "success",
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", msg.MsgTime, time.Local); err == nil {
		rec.MsgTime = &t
	}
	return rec
}
