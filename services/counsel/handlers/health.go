// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness plus a retrieval reachability hint. The
// service stays "ok" even when retrieval is down, because consultations
// degrade instead of failing.
func HealthCheck(retrievalReady func(ctx context.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ready := false
		if retrievalReady != nil {
			ready = retrievalReady(c.Request.Context())
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"retrieval": ready,
		})
	}
}
