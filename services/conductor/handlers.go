// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"errors"
	"net/http"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/flow"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/suspend"
	"github.com/gin-gonic/gin"
)

// Handlers adapts the service to HTTP. Auth, rate limiting, and webhook
// signature verification live in middleware outside this package.
type Handlers struct {
	service *Service
}

// NewHandlers creates the HTTP handlers for a service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// executeRequest is the body of an execute or resume call.
type executeRequest struct {
	Input map[string]any `json:"input"`
}

// HandleExecute runs the named ensemble.
//
// POST /v1/conductor/ensembles/:ref/execute
func (h *Handlers) HandleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.service.ExecuteByName(c.Request.Context(), c.Param("ref"), req.Input)
	if err != nil {
		h.writeError(c, res, err)
		return
	}
	status := http.StatusOK
	if res.Status == StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// HandleResume consumes a resume token.
//
// POST /v1/conductor/resume/:token
func (h *Handlers) HandleResume(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.service.ResumeExecution(c.Request.Context(), c.Param("token"), req.Input)
	if err != nil {
		h.writeError(c, res, err)
		return
	}
	status := http.StatusOK
	if res.Status == StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// HandleListDefinitions lists loaded ensemble references.
//
// GET /v1/conductor/ensembles
func (h *Handlers) HandleListDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ensembles": h.service.Definitions().Refs()})
}

// HandleGetDefinition returns one definition.
//
// GET /v1/conductor/ensembles/:ref
func (h *Handlers) HandleGetDefinition(c *gin.Context) {
	def, err := h.service.Definitions().Get(c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

// HandleHealth reports liveness.
//
// GET /v1/conductor/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps engine errors onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, res *ExecutionResult, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrDefinitionNotFound),
		errors.Is(err, suspend.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, suspend.ErrTokenAlreadyUsed),
		errors.Is(err, suspend.ErrTokenExpired):
		status = http.StatusConflict
	case errors.Is(err, flow.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrCancelled):
		status = http.StatusRequestTimeout
	}
	if res != nil {
		c.JSON(status, res)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
