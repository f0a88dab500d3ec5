// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// ItemData carries the scene payload of a CDSS push: the free-text patient
// demographics and clinical summary the AI request is seeded from.
type ItemData struct {
	PatientAge      string `json:"patientAge" binding:"required"`
	PatientSex      string `json:"patientSex" binding:"required"`
	ClinicInfo      string `json:"clinicInfo" binding:"required"`
	AbstractHistory string `json:"abstractHistory" binding:"required"`
}

// CDSSMessage is the patient-visit record pushed by the HIS. It is stored
// verbatim on ingest and later reconstructed by the context resolver to seed
// a recommendation request.
type CDSSMessage struct {
	SystemID  string   `json:"systemId" binding:"required"`
	SceneType string   `json:"sceneType"`
	State     int      `json:"state"`
	PatNo     string   `json:"patNo" binding:"required"`
	PatName   string   `json:"patName" binding:"required"`
	AdmID     string   `json:"admId" binding:"required"`
	VisitType string   `json:"visitType" binding:"required"`
	DeptCode  string   `json:"deptCode"`
	DeptDesc  string   `json:"deptDesc"`
	HospCode  string   `json:"hospCode"`
	HospDesc  string   `json:"hospDesc"`
	UserIP    string   `json:"userIP" binding:"required"`
	UserCode  string   `json:"userCode" binding:"required"`
	UserName  string   `json:"userName"`
	MsgTime   string   `json:"msgTime" binding:"required"`
	Remark    string   `json:"remark"`
	ItemData  ItemData `json:"itemData" binding:"required"`
}

// PatientData is the patient_data payload pushed to the owning session when
// a HIS record arrives.
type PatientData struct {
	PatNo       string   `json:"patNo"`
	PatName     string   `json:"patName"`
	AdmID       string   `json:"admId"`
	DeptCode    string   `json:"deptCode"`
	DeptDesc    string   `json:"deptDesc"`
	UserCode    string   `json:"userCode"`
	UserName    string   `json:"userName"`
	PatientInfo ItemData `json:"patientInfo"`
}

// PatientDataFromCDSS shapes the push payload for a stored HIS record.
func PatientDataFromCDSS(msg CDSSMessage) PatientData {
	return PatientData{
		PatNo:       msg.PatNo,
		PatName:     msg.PatName,
		AdmID:       msg.AdmID,
		DeptCode:    msg.DeptCode,
		DeptDesc:    msg.DeptDesc,
		UserCode:    msg.UserCode,
		UserName:    msg.UserName,
		PatientInfo: msg.ItemData,
	}
}
