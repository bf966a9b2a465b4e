// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, exported at /metrics by the serving layer.
var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_executions_total",
		Help: "Ensemble executions by terminal status",
	}, []string{"status"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conductor_execution_duration_seconds",
		Help:    "Wall time of one scheduler pass",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
	})

	suspensionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_suspensions_total",
		Help: "Executions suspended awaiting external input",
	})

	resumesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_resumes_total",
		Help: "Resume attempts by outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_scoring_retries_total",
		Help: "Score-driven step retries across all executions",
	})

	definitionReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_definition_reloads_total",
		Help: "Definition store loads by outcome",
	}, []string{"outcome"})
)
