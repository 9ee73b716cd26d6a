package auth

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"colab/internal/domain"
)

func TestCanManageDefaults(t *testing.T) {
	h := NewHierarchy(DefaultRoles)
	cases := []struct {
		manager, target string
		want            bool
	}{
		{"BLACK", "OLLAMA", true},
		{"black", "intolerant", true},
		{"INTOLERANT", "OLLAMA", true},
		{"INTOLERANT", "TKINTER", true},
		{"OLLAMA", "BLACK", false},
		{"BLACK", "BLACK", false},
		{"OLLAMA", "STRANGER", true},
		{"STRANGER", "TKINTER", false},
		{"TKINTER", "STRANGER", false},
	}
	for _, tc := range cases {
		if got := h.CanManage(tc.manager, tc.target); got != tc.want {
			t.Fatalf("CanManage(%s, %s) = %v, want %v", tc.manager, tc.target, got, tc.want)
		}
	}
}

func TestCheckReturnsTypedDenial(t *testing.T) {
	h := NewHierarchy(DefaultRoles)
	err := h.Check("OLLAMA", "BLACK")
	var denied *ManageDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected ManageDeniedError, got %v", err)
	}
	if denied.ManagerRole != domain.RoleGrunt || denied.TargetRole != domain.RoleSupervisor {
		t.Fatalf("unexpected roles in denial: %+v", denied)
	}
	if err := h.Check("BLACK", "OLLAMA"); err != nil {
		t.Fatalf("expected supervisor to manage grunt: %v", err)
	}
}

func TestInvalidRoleFallsBackToBot(t *testing.T) {
	h := NewHierarchy(map[string]domain.Role{"ROGUE": "overlord"})
	if got := h.RoleOf("rogue"); got != domain.RoleBot {
		t.Fatalf("expected bot for invalid role, got %s", got)
	}
}

func TestTableIsCopied(t *testing.T) {
	table := map[string]domain.Role{"A": domain.RoleWorker}
	h := NewHierarchy(table)
	table["A"] = domain.RoleSupervisor
	if h.RoleOf("A") != domain.RoleWorker {
		t.Fatalf("hierarchy changed after construction")
	}
	members := h.Members()
	members["A"] = domain.RoleSupervisor
	if h.RoleOf("A") != domain.RoleWorker {
		t.Fatalf("Members leaked internal table")
	}
}

func TestCanManageMatchesRankOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := []string{"M", "T"}
		table := map[string]domain.Role{}
		for _, name := range names {
			if rapid.Bool().Draw(t, name+"_known") {
				table[name] = rapid.SampledFrom(domain.Roles).Draw(t, name+"_role")
			}
		}
		h := NewHierarchy(table)
		manager := h.RoleOf("M")
		target := h.RoleOf("T")
		want := manager.Rank() > target.Rank()
		if got := h.CanManage("M", "T"); got != want {
			t.Fatalf("CanManage(%s, %s) = %v, want %v", manager, target, got, want)
		}
		if manager.Rank() == target.Rank() && h.CanManage("M", "T") {
			t.Fatalf("equal ranks must never manage")
		}
		if _, ok := table["M"]; !ok && manager.Rank() != 0 {
			t.Fatalf("unknown name must rank as bot")
		}
	})
}
