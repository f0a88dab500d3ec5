// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// IsClientAllowed evaluates the permission gate for a client. A client with
// no role bindings passes by default; a bound client passes only if at least
// one of its roles carries an allow rule.
func (s *Store) IsClientAllowed(ctx context.Context, clientID string) (bool, error) {
	var roleIDs []string
	err := s.db.WithContext(ctx).Model(&models.ClientRoleBinding{}).
		Where("client_id = ?", clientID).
		Pluck("role_id", &roleIDs).Error
	if err != nil {
		return false, fmt.Errorf("role bindings %s: %w", clientID, err)
	}
	if len(roleIDs) == 0 {
		return true, nil
	}
	var n int64
	err = s.db.WithContext(ctx).Model(&models.RoleServiceAcl{}).
		Where("role_id IN ? AND allow = ?", roleIDs, true).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("acl lookup %s: %w", clientID, err)
	}
	return n > 0, nil
}

// CreateRole adds a named permission group.
func (s *Store) CreateRole(ctx context.Context, role *models.Role) error {
	if err := s.db.WithContext(ctx).Create(role).Error; err != nil {
		return fmt.Errorf("create role %s: %w", role.RoleName, err)
	}
	return nil
}

// AddRoleAcl attaches one allow/deny rule to a role.
func (s *Store) AddRoleAcl(ctx context.Context, acl *models.RoleServiceAcl) error {
	if err := s.db.WithContext(ctx).Create(acl).Error; err != nil {
		return fmt.Errorf("add role acl: %w", err)
	}
	return nil
}

// BindClientRole attaches a role to a client.
func (s *Store) BindClientRole(ctx context.Context, clientID, roleID string) error {
	b := models.ClientRoleBinding{ClientID: clientID, RoleID: roleID}
	if err := s.db.WithContext(ctx).Create(&b).Error; err != nil {
		return fmt.Errorf("bind client role %s: %w", clientID, err)
	}
	return nil
}

// UnbindClientRole removes a client's role binding.
func (s *Store) UnbindClientRole(ctx context.Context, clientID, roleID string) error {
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND role_id = ?", clientID, roleID).
		Delete(&models.ClientRoleBinding{}).Error
	if err != nil {
		return fmt.Errorf("unbind client role %s: %w", clientID, err)
	}
	return nil
}

// ListRoles returns all roles.
func (s *Store) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("created_at").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
