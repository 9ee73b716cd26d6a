// Package settings reads and patches the per-agent settings documents that
// live under each agent's folder.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"colab/internal/domain"
	"colab/internal/engine/auth"
	"colab/internal/jsonfile"
)

const fileName = "settings.json"

var (
	ErrNoFolder    = errors.New("agent folder not found")
	ErrInvalidName = errors.New("invalid agent name")
)

// Document is an agent's settings: arbitrary nested JSON.
type Document map[string]any

// Todo is one startup todo entry.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// Store locates settings at <BaseDir>/<NAME>/settings.json.
type Store struct {
	BaseDir string
	Roles   auth.Hierarchy
	Logger  *slog.Logger
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// agentDir maps name to its folder under BaseDir. Names must be a single
// path element, so a write can never land in another agent's folder.
func (s *Store) agentDir(name string) (string, error) {
	n := domain.NormalizeName(name)
	if n == "" || n == "." || strings.ContainsAny(n, `/\`) || !filepath.IsLocal(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.BaseDir, n), nil
}

// Folder returns the agent's folder, or "" when it does not exist or the
// name is not a plain agent name.
func (s *Store) Folder(name string) string {
	dir, err := s.agentDir(name)
	if err != nil {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

// Read returns the agent's document. Missing folders, missing files and
// corrupt JSON all read as absent.
func (s *Store) Read(name string) (Document, bool) {
	dir := s.Folder(name)
	if dir == "" {
		return nil, false
	}
	doc, err := jsonfile.Load(filepath.Join(dir, fileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger().Debug("settings unreadable, treating as absent", "agent", name, "error", err)
		}
		return nil, false
	}
	return Document(doc), true
}

// Write merges patch into the agent's document. When manager is non-empty it
// must outrank the agent or nothing is written. An empty manager skips the
// rank check.
func (s *Store) Write(name string, patch Document, manager string) error {
	if _, err := s.agentDir(name); err != nil {
		return err
	}
	if manager != "" {
		if err := s.Roles.Check(manager, name); err != nil {
			s.logger().Warn("settings write denied", "manager", manager, "agent", name, "error", err)
			return err
		}
	}
	dir := s.Folder(name)
	if dir == "" {
		return fmt.Errorf("%w: %s", ErrNoFolder, domain.NormalizeName(name))
	}
	path := filepath.Join(dir, fileName)
	existing, err := jsonfile.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read settings: %w", err)
		}
		existing = map[string]any{}
	}
	merged := Merge(Document(existing), patch)
	if err := jsonfile.WriteAtomic(path, merged); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.logger().Info("settings updated", "agent", domain.NormalizeName(name), "keys", len(patch))
	return nil
}

// SetTodos replaces the agent's startup todos.
func (s *Store) SetTodos(name string, todos []Todo, manager string) error {
	items := make([]any, 0, len(todos))
	for _, t := range todos {
		items = append(items, map[string]any{
			"content":    t.Content,
			"status":     t.Status,
			"activeForm": t.ActiveForm,
		})
	}
	return s.Write(name, Document{"startup_todos": items}, manager)
}

// AddRule appends rule to the agent's rules unless it is already present.
func (s *Store) AddRule(name, rule, manager string) error {
	if _, err := s.agentDir(name); err != nil {
		return err
	}
	var rules []any
	if doc, ok := s.Read(name); ok {
		if existing, ok := doc["rules"].([]any); ok {
			rules = append(rules, existing...)
		}
	}
	if !containsString(rules, rule) {
		rules = append(rules, rule)
	}
	return s.Write(name, Document{"rules": rules}, manager)
}

// Merge applies patch over base. A top-level key whose old and new values
// are both objects is merged one level deep, new values winning; anything
// else is replaced wholesale. base is not modified.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		newMap, newIsMap := asMap(v)
		oldMap, oldIsMap := asMap(out[k])
		if newIsMap && oldIsMap {
			combined := make(map[string]any, len(oldMap)+len(newMap))
			for ik, iv := range oldMap {
				combined[ik] = iv
			}
			for ik, iv := range newMap {
				combined[ik] = iv
			}
			out[k] = combined
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

func containsString(items []any, s string) bool {
	for _, item := range items {
		if v, ok := item.(string); ok && v == s {
			return true
		}
	}
	return false
}
