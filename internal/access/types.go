package access

import (
	"slices"
	"strings"
)

// Action is one of the four checks the gate answers.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

const (
	DefaultRole = "viewer"
	AdminRole   = "admin"
)

// EntityRoles lists the roles allowed each action on one entity type.
type EntityRoles struct {
	View   []string `yaml:"view_roles" json:"view_roles"`
	Create []string `yaml:"create_roles" json:"create_roles"`
	Update []string `yaml:"update_roles" json:"update_roles"`
	Delete []string `yaml:"delete_roles" json:"delete_roles"`
}

func (r EntityRoles) roles(a Action) []string {
	switch a {
	case ActionView:
		return r.View
	case ActionCreate:
		return r.Create
	case ActionUpdate:
		return r.Update
	case ActionDelete:
		return r.Delete
	}
	return nil
}

func (r EntityRoles) normalized() EntityRoles {
	return EntityRoles{
		View:   normalizeRoles(r.View),
		Create: normalizeRoles(r.Create),
		Update: normalizeRoles(r.Update),
		Delete: normalizeRoles(r.Delete),
	}
}

// RoleTable maps an entity type to its role lists.
type RoleTable map[string]EntityRoles

// Grant allows one user one action on one entity instance.
type Grant struct {
	UserID     string `yaml:"user_id" json:"user_id"`
	EntityType string `yaml:"entity_type" json:"entity_type"`
	EntityID   string `yaml:"entity_id" json:"entity_id"`
	Action     Action `yaml:"action" json:"action"`
}

// Config seeds a Gate. Empty role names fall back to DefaultRole and AdminRole.
type Config struct {
	Roles       RoleTable
	Users       map[string][]string
	Grants      []Grant
	DefaultRole string
	AdminRole   string
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = normalizeRole(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
