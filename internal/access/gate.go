// Package access decides whether a user may view, create, update or delete
// an entity, from role lists per entity type plus per-entity grants.
package access

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrInvalidGrant = errors.New("access: invalid grant")

type grantKey struct {
	userID     string
	entityType string
	entityID   string
	action     Action
}

// Gate evaluates permissions. It is safe for concurrent use.
type Gate struct {
	mu          sync.RWMutex
	roles       RoleTable
	users       map[string][]string
	grants      map[grantKey]struct{}
	defaultRole string
	adminRole   string
}

// New copies cfg into a ready gate.
func New(cfg Config) (*Gate, error) {
	g := &Gate{
		roles:       make(RoleTable, len(cfg.Roles)),
		users:       make(map[string][]string, len(cfg.Users)),
		grants:      make(map[grantKey]struct{}, len(cfg.Grants)),
		defaultRole: normalizeRole(cfg.DefaultRole),
		adminRole:   normalizeRole(cfg.AdminRole),
	}
	if g.defaultRole == "" {
		g.defaultRole = DefaultRole
	}
	if g.adminRole == "" {
		g.adminRole = AdminRole
	}
	for entityType, r := range cfg.Roles {
		g.roles[strings.TrimSpace(entityType)] = r.normalized()
	}
	for userID, roles := range cfg.Users {
		if roles := normalizeRoles(roles); len(roles) > 0 {
			g.users[userID] = roles
		}
	}
	for _, grant := range cfg.Grants {
		if err := g.GrantSpecificPermission(grant); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gate) CanView(userID, entityType, entityID string) bool {
	return g.Can(ActionView, userID, entityType, entityID)
}

func (g *Gate) CanCreate(userID, entityType, entityID string) bool {
	return g.Can(ActionCreate, userID, entityType, entityID)
}

func (g *Gate) CanUpdate(userID, entityType, entityID string) bool {
	return g.Can(ActionUpdate, userID, entityType, entityID)
}

func (g *Gate) CanDelete(userID, entityType, entityID string) bool {
	return g.Can(ActionDelete, userID, entityType, entityID)
}

// Can checks admin first, then the role list for entityType, then a specific
// grant. Create has no grant path. Unknown entity types deny everyone but admins.
func (g *Gate) Can(action Action, userID, entityType, entityID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.roleAllows(action, userID, entityType) {
		return true
	}
	if _, known := g.roles[entityType]; !known || action == ActionCreate || entityID == "" {
		return false
	}
	_, ok := g.grants[grantKey{userID, entityType, entityID, action}]
	return ok
}

// roleAllows reports whether the user's roles alone allow action on every
// entity of entityType. Callers hold g.mu.
func (g *Gate) roleAllows(action Action, userID, entityType string) bool {
	roles := g.rolesOf(userID)
	if slices.Contains(roles, g.adminRole) {
		return true
	}
	table, ok := g.roles[entityType]
	if !ok {
		return false
	}
	for _, r := range table.roles(action) {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

func (g *Gate) rolesOf(userID string) []string {
	if roles, ok := g.users[userID]; ok && len(roles) > 0 {
		return roles
	}
	return []string{g.defaultRole}
}

// UserRoles returns the effective roles, including the default fallback.
func (g *Gate) UserRoles(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.rolesOf(userID)...)
}

func (g *Gate) AddUserRole(userID, role string) {
	role = normalizeRole(role)
	if role == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.users[userID], role) {
		g.users[userID] = append(g.users[userID], role)
	}
}

// RemoveUserRole drops role; a user left with none falls back to the default role.
func (g *Gate) RemoveUserRole(userID, role string) {
	role = normalizeRole(role)
	g.mu.Lock()
	defer g.mu.Unlock()
	roles := slices.DeleteFunc(slices.Clone(g.users[userID]), func(r string) bool { return r == role })
	if len(roles) == 0 {
		delete(g.users, userID)
		return
	}
	g.users[userID] = roles
}

func (g *Gate) GrantSpecificPermission(grant Grant) error {
	key, err := grantKeyOf(grant)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[key] = struct{}{}
	return nil
}

// RevokeSpecificPermission removes a grant. Role-based access is unaffected.
func (g *Gate) RevokeSpecificPermission(grant Grant) error {
	key, err := grantKeyOf(grant)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, key)
	return nil
}

// SetEntityPermissions replaces the role lists for one entity type.
func (g *Gate) SetEntityPermissions(entityType string, roles EntityRoles) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles[strings.TrimSpace(entityType)] = roles.normalized()
}

func grantKeyOf(grant Grant) (grantKey, error) {
	switch {
	case grant.UserID == "" || grant.EntityType == "" || grant.EntityID == "":
		return grantKey{}, fmt.Errorf("%w: user, entity type and entity id are required", ErrInvalidGrant)
	case grant.Action != ActionView && grant.Action != ActionUpdate && grant.Action != ActionDelete:
		return grantKey{}, fmt.Errorf("%w: action %q cannot be granted per entity", ErrInvalidGrant, grant.Action)
	}
	return grantKey{grant.UserID, grant.EntityType, grant.EntityID, grant.Action}, nil
}

// FilterByPermission keeps the items userID may view. When a role already
// allows viewing the whole entity type the input is returned as is.
func FilterByPermission[T any](g *Gate, userID, entityType string, items []T, idOf func(T) string) []T {
	g.mu.RLock()
	blanket := g.roleAllows(ActionView, userID, entityType)
	g.mu.RUnlock()
	if blanket {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if g.CanView(userID, entityType, idOf(item)) {
			out = append(out, item)
		}
	}
	return out
}
