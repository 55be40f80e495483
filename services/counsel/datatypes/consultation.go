// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and pipeline data types shared by the
// counsel services.
package datatypes

// ConsultationRequest is the immutable input to the consultation pipeline.
//
// The caller owns the request; the pipeline never mutates it.
type ConsultationRequest struct {
	// Title is a short caption of the dilemma.
	Title string `json:"title" binding:"required"`

	// Description is the free-text dilemma itself.
	Description string `json:"description" binding:"required"`

	// Role is the seeker's role in the situation (e.g. "team lead"). Optional.
	Role string `json:"role,omitempty"`

	// Stakeholders lists the people affected. Optional.
	Stakeholders []string `json:"stakeholders,omitempty"`

	// Constraints lists hard limits the seeker operates under. Optional.
	Constraints []string `json:"constraints,omitempty"`

	// Horizon is the decision time horizon (e.g. "this week"). Optional.
	Horizon string `json:"horizon,omitempty"`

	// Sensitivity tags the request ("normal", "sensitive"). Optional.
	Sensitivity string `json:"sensitivity,omitempty"`
}

// ConsultResponse is the HTTP envelope around an advisory brief.
type ConsultResponse struct {
	ConsultationID string        `json:"consultation_id"`
	Outcome        string        `json:"outcome"`
	Brief          AdvisoryBrief `json:"brief"`
	Warnings       []string      `json:"warnings,omitempty"`
}
