// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/handlers"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/middleware"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/registry"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/relay"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
)

// Setup mounts the full route surface: the CDSS ingest endpoint, the
// terminal WebSocket, the synchronous proxy, and the admin surface.
func Setup(router *gin.Engine, cfg *config.Config, st *store.Store, reg *registry.Registry, rel *relay.Relay) {
	router.Use(middleware.RequestID(), middleware.AccessLog())

	router.GET("/health", handlers.HandleHealth(reg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := router.Group("/ws")
	{
		ws.GET("/client/:client_id", handlers.HandleClientWebSocket(reg, rel))
		ws.GET("/clients", handlers.HandleConnectedClients(reg))
	}

	cacheWindow := time.Duration(cfg.Relay.CacheWindowMinutes) * time.Minute
	api := router.Group("/api")
	{
		api.POST("/CHKR01/rest/", handlers.HandleHisPush(cfg.HIS, st, reg))
		api.POST("/ai/recommend", handlers.HandleAIProxy(cfg.AIService, cacheWindow, st, rel))

		admin := handlers.NewAdmin(st, reg)
		adm := api.Group("/admin")
		{
			adm.GET("/clients", admin.ListClients)
			adm.POST("/clients/:client_id/disconnect", admin.DisconnectClient)
			adm.POST("/clients/:client_id/disable", admin.DisableClient)
			adm.GET("/logs/his", admin.ListHisLogs)
			adm.GET("/logs/ai", admin.ListAiLogs)
			adm.GET("/sessions", admin.ListSessions)
			adm.GET("/traces", admin.GetTrace)
			adm.GET("/roles", admin.ListRoles)
			adm.POST("/roles", admin.CreateRole)
			adm.POST("/roles/:role_id/acls", admin.AddRoleAcl)
			adm.POST("/bindings", admin.BindClientRole)
			adm.DELETE("/bindings", admin.UnbindClientRole)
		}
	}
}
