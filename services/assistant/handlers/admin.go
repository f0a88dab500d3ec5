// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/registry"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
)

// Admin exposes the operator read surface and the small role/ACL write
// surface.
type Admin struct {
	store    *store.Store
	registry *registry.Registry
}

func NewAdmin(st *store.Store, reg *registry.Registry) *Admin {
	return &Admin{store: st, registry: reg}
}

func paging(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}
	return page, size
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok", "data": data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"code": status, "message": "request failed", "error": err.Error()})
}

func pageData(items any, total int64, page, size int) gin.H {
	return gin.H{"items": items, "total": total, "page": page, "page_size": size}
}

// ListClients pages the persisted connection rows, annotated with the live
// registry state.
func (a *Admin) ListClients(c *gin.Context) {
	page, size := paging(c)
	recs, total, err := a.store.ListConnections(c.Request.Context(), c.Query("status"), page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	type clientRow struct {
		models.ClientConnection
		Live bool `json:"live"`
	}
	rows := make([]clientRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, clientRow{rec, a.registry.IsConnected(rec.ClientID)})
	}
	ok(c, pageData(rows, total, page, size))
}

// DisconnectClient force-closes a live session.
func (a *Admin) DisconnectClient(c *gin.Context) {
	clientID := c.Param("client_id")
	a.registry.Unregister(clientID, nil)
	ok(c, gin.H{"client_id": clientID})
}

// DisableClient flips the operator kill switch; a disabled client keeps its
// socket but fails the permission gate.
func (a *Admin) DisableClient(c *gin.Context) {
	clientID := c.Param("client_id")
	disabled := c.DefaultQuery("disabled", "true") == "true"
	if err := a.store.SetClientDisabled(c.Request.Context(), clientID, disabled); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"client_id": clientID, "disabled": disabled})
}

// ListHisLogs pages the push history.
func (a *Admin) ListHisLogs(c *gin.Context) {
	page, size := paging(c)
	recs, total, err := a.store.ListHisPushLogs(c.Request.Context(), c.Query("pat_no"), page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, pageData(recs, total, page, size))
}

// ListAiLogs pages relay outcomes.
func (a *Admin) ListAiLogs(c *gin.Context) {
	page, size := paging(c)
	recs, total, err := a.store.ListRecommendationLogs(c.Request.Context(), c.Query("pat_no"), page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, pageData(recs, total, page, size))
}

// ListSessions pages the per-day session aggregates with their records.
func (a *Admin) ListSessions(c *gin.Context) {
	page, size := paging(c)
	recs, total, err := a.store.ListSessions(c.Request.Context(), c.Query("pat_no"), page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, pageData(recs, total, page, size))
}

// GetTrace returns one trace and its spans by trace id.
func (a *Admin) GetTrace(c *gin.Context) {
	traceID := c.Query("trace_id")
	if traceID == "" {
		fail(c, http.StatusBadRequest, errors.New("trace_id required"))
		return
	}
	trace, spans, err := a.store.GetTrace(c.Request.Context(), traceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"trace": trace, "spans": spans})
}

// RoleCreate is the role creation body.
type RoleCreate struct {
	RoleName string `json:"role_name" binding:"required"`
	Remark   string `json:"remark"`
}

// ListRoles returns all roles.
func (a *Admin) ListRoles(c *gin.Context) {
	roles, err := a.store.ListRoles(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, roles)
}

// CreateRole adds a permission group.
func (a *Admin) CreateRole(c *gin.Context) {
	var body RoleCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	role := &models.Role{RoleName: body.RoleName, Remark: body.Remark}
	if err := a.store.CreateRole(c.Request.Context(), role); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, role)
}

// AclCreate is the ACL rule body.
type AclCreate struct {
	ServiceID string `json:"service_id"`
	Allow     bool   `json:"allow"`
}

// AddRoleAcl attaches one allow/deny rule to a role.
func (a *Admin) AddRoleAcl(c *gin.Context) {
	var body AclCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	acl := &models.RoleServiceAcl{RoleID: c.Param("role_id"), ServiceID: body.ServiceID, Allow: body.Allow}
	if err := a.store.AddRoleAcl(c.Request.Context(), acl); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, acl)
}

// BindingCreate is the client-role binding body.
type BindingCreate struct {
	ClientID string `json:"client_id" binding:"required"`
	RoleID   string `json:"role_id" binding:"required"`
}

// BindClientRole attaches a role to a client.
func (a *Admin) BindClientRole(c *gin.Context) {
	var body BindingCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := a.store.BindClientRole(c.Request.Context(), body.ClientID, body.RoleID); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, body)
}

// UnbindClientRole removes a client's role binding.
func (a *Admin) UnbindClientRole(c *gin.Context) {
	var body BindingCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := a.store.UnbindClientRole(c.Request.Context(), body.ClientID, body.RoleID); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, body)
}
