// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the conductor endpoints with the router
// group, typically /v1.
//
// Endpoints:
//
//	GET  /v1/conductor/ensembles - List loaded definitions
//	GET  /v1/conductor/ensembles/:ref - Get one definition
//	POST /v1/conductor/ensembles/:ref/execute - Run an ensemble
//	POST /v1/conductor/resume/:token - Resume a suspended execution
//	GET  /v1/conductor/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	conductor := rg.Group("/conductor")
	{
		conductor.GET("/ensembles", handlers.HandleListDefinitions)
		conductor.GET("/ensembles/:ref", handlers.HandleGetDefinition)
		conductor.POST("/ensembles/:ref/execute", handlers.HandleExecute)
		conductor.POST("/resume/:token", handlers.HandleResume)
		conductor.GET("/health", handlers.HandleHealth)
	}
}
