package auth

import (
	"fmt"

	"colab/internal/domain"
)

// ManageDeniedError indicates the manager does not outrank the target.
type ManageDeniedError struct {
	Manager     string
	ManagerRole domain.Role
	Target      string
	TargetRole  domain.Role
}

func (e *ManageDeniedError) Error() string {
	return fmt.Sprintf("%s (%s) cannot manage %s (%s): insufficient rank", e.Manager, e.ManagerRole, e.Target, e.TargetRole)
}

// DefaultRoles is the built-in name to role table.
var DefaultRoles = map[string]domain.Role{
	"BLACK":      domain.RoleSupervisor,
	"INTOLERANT": domain.RoleWorker,
	"OLLAMA":     domain.RoleGrunt,
	"TKINTER":    domain.RoleBot,
}

// Hierarchy resolves agent names to roles and decides who may manage whom.
// The table is copied at construction and never changes afterwards.
//
// The check is advisory: it runs on the client only and callers that do not
// name a manager skip it entirely.
type Hierarchy struct {
	roles map[string]domain.Role
}

// NewHierarchy builds a hierarchy from a name to role table. Names are
// upper-cased; invalid roles fall back to bot.
func NewHierarchy(table map[string]domain.Role) Hierarchy {
	roles := make(map[string]domain.Role, len(table))
	for name, role := range table {
		if !role.Valid() {
			role = domain.RoleBot
		}
		roles[domain.NormalizeName(name)] = role
	}
	return Hierarchy{roles: roles}
}

// RoleOf returns the role for name, defaulting to bot.
func (h Hierarchy) RoleOf(name string) domain.Role {
	if role, ok := h.roles[domain.NormalizeName(name)]; ok {
		return role
	}
	return domain.RoleBot
}

// Identity returns the name paired with its role.
func (h Hierarchy) Identity(name string) domain.Identity {
	return domain.Identity{Name: domain.NormalizeName(name), Role: h.RoleOf(name)}
}

// CanManage reports whether manager strictly outranks target.
func (h Hierarchy) CanManage(manager, target string) bool {
	return h.RoleOf(manager).Rank() > h.RoleOf(target).Rank()
}

// Check is CanManage returning a typed error describing a refusal.
func (h Hierarchy) Check(manager, target string) error {
	if h.CanManage(manager, target) {
		return nil
	}
	return &ManageDeniedError{
		Manager:     domain.NormalizeName(manager),
		ManagerRole: h.RoleOf(manager),
		Target:      domain.NormalizeName(target),
		TargetRole:  h.RoleOf(target),
	}
}

// Members returns a copy of the role table.
func (h Hierarchy) Members() map[string]domain.Role {
	out := make(map[string]domain.Role, len(h.roles))
	for name, role := range h.roles {
		out[name] = role
	}
	return out
}
