// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gin handlers for the counsel API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
	"github.com/dharmadesk/dharmadesk/services/counsel/pipeline"
)

var counselTracer = otel.Tracer("dharmadesk.counsel.handlers")

// HandleConsult runs one consultation through the pipeline.
//
// The pipeline never fails for expected reasons, so this handler has exactly
// two responses: 400 for an unparseable request, 200 with a brief otherwise.
func HandleConsult(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := counselTracer.Start(c.Request.Context(), "HandleConsult")
		defer span.End()

		var req datatypes.ConsultationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Failed to parse the consultation request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result := orch.Run(ctx, req)

		c.JSON(http.StatusOK, datatypes.ConsultResponse{
			ConsultationID: result.ConsultationID,
			Outcome:        string(result.Outcome),
			Brief:          result.Brief,
			Warnings:       result.Warnings,
		})
	}
}
