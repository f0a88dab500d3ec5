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

// RecommendationItem is one suggested check item. Reason and cautions
// accumulate fragment by fragment during a streamed response; Sequence is
// assigned in first-seen order, 1-based.
type RecommendationItem struct {
	CheckItemName string `json:"checkItemName"`
	Reason        string `json:"reason"`
	Cautions      string `json:"cautions"`
	Sequence      int    `json:"sequence"`
}

// RecommendationData is the ai_recommendation payload pushed to a session,
// both for partial snapshots (Partial=true, Finish=false) and for the single
// terminal snapshot (Partial=false, Finish=true).
type RecommendationData struct {
	RequestID       string               `json:"requestId"`
	Recommendations []RecommendationItem `json:"recommendations"`
	TotalCount      int                  `json:"totalCount"`
	ProcessingTime  float64              `json:"processingTime"`
	AIService       string               `json:"aiService"`
	PatNo           string               `json:"patNo"`
	Partial         bool                 `json:"partial"`
	Finish          bool                 `json:"finish"`
}
