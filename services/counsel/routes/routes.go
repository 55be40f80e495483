// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the counsel handlers onto a gin engine.
package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
	"github.com/dharmadesk/dharmadesk/services/counsel/generate"
	"github.com/dharmadesk/dharmadesk/services/counsel/handlers"
	"github.com/dharmadesk/dharmadesk/services/counsel/pipeline"
	"github.com/dharmadesk/dharmadesk/services/counsel/retrieval"
)

// Deps carries everything the route table needs.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Generation   *generate.Client
	Retrieval    *retrieval.Client

	// Registry backs /metrics. Optional; nil disables the endpoint.
	Registry *prometheus.Registry
}

// SetupRoutes registers the counsel API on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	var ready func(ctx context.Context) bool
	if deps.Retrieval != nil {
		ready = deps.Retrieval.Ready
	}
	router.GET("/health", handlers.HealthCheck(ready))

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/consult", handlers.HandleConsult(deps.Orchestrator))

		admin := v1.Group("/admin")
		{
			registry := &breakerRegistry{generation: deps.Generation, retrieval: deps.Retrieval}
			admin.GET("/breakers", handlers.ListBreakers(registry))
			admin.POST("/breakers/:name/reset", handlers.ResetBreaker(registry))
		}
	}
}

// breakerRegistry presents the generation chain's breakers and the retrieval
// breaker as one administrative surface.
type breakerRegistry struct {
	generation *generate.Client
	retrieval  *retrieval.Client
}

func (r *breakerRegistry) Snapshots() []breaker.Snapshot {
	var snapshots []breaker.Snapshot
	if r.generation != nil {
		snapshots = append(snapshots, r.generation.Snapshots()...)
	}
	if r.retrieval != nil {
		snapshots = append(snapshots, r.retrieval.Snapshot())
	}
	return snapshots
}

func (r *breakerRegistry) Reset(name string) bool {
	if name == "retrieval" && r.retrieval != nil {
		r.retrieval.ResetBreaker()
		return true
	}
	if r.generation != nil {
		return r.generation.ResetBreaker(name)
	}
	return false
}
