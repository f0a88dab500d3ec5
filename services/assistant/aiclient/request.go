// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiclient

import (
	"strings"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/datatypes"
)

// Request is the upstream inference request body. Field names follow the
// external service contract.
type Request struct {
	SessionID       string `json:"session_id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Department      string `json:"department"`
	Source          string `json:"source"`
	PatientSex      string `json:"patient_sex"`
	PatientAge      string `json:"patient_age"`
	AbstractHistory string `json:"abstract_history"`
	ClinicInfo      string `json:"clinic_info"`
	RecommendCount  int    `json:"recommend_count"`
	DiagnoseName    string `json:"diagnose_name"`
}

// BuildRequest maps a resolved clinical context onto the upstream request.
// The visit id doubles as the upstream session id.
func BuildRequest(cfg config.AIServiceConfig, msg datatypes.CDSSMessage) Request {
	dept := msg.DeptCode
	if dept == "" {
		dept = "unknown"
	}
	return Request{
		SessionID:       msg.AdmID,
		PatientID:       msg.PatNo,
		DoctorID:        msg.UserCode,
		Department:      dept,
		Source:          cfg.Source,
		PatientSex:      msg.ItemData.PatientSex,
		PatientAge:      msg.ItemData.PatientAge,
		AbstractHistory: msg.ItemData.AbstractHistory,
		ClinicInfo:      msg.ItemData.ClinicInfo,
		RecommendCount:  cfg.RecommendCount,
		DiagnoseName:    inferDiagnoseName(msg),
	}
}

// inferDiagnoseName derives the provisional-diagnosis field the upstream
// service requires: the leading 25 runes of the history summary, falling
// back to the chief complaint.
func inferDiagnoseName(msg datatypes.CDSSMessage) string {
	text := msg.ItemData.AbstractHistory
	if text == "" {
		text = msg.ItemData.ClinicInfo
	}
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	runes := []rune(text)
	if len(runes) > 25 {
		runes = runes[:25]
	}
	return string(runes)
}
