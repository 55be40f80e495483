// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
)

// BreakerAdmin is the slice of the system the admin surface needs: a view of
// every breaker and the ability to force one closed.
type BreakerAdmin interface {
	Snapshots() []breaker.Snapshot
	Reset(name string) bool
}

// ListBreakers reports every circuit breaker's state.
func ListBreakers(admin BreakerAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": admin.Snapshots()})
	}
}

// ResetBreaker force-closes one named breaker. This is the explicit
// administrative reset; there is no bulk variant on purpose.
func ResetBreaker(admin BreakerAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !admin.Reset(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such breaker", "name": name})
			return
		}
		slog.Info("Breaker reset by administrator", slog.String("dependency", name))
		c.JSON(http.StatusOK, gin.H{"status": "reset", "name": name})
	}
}
