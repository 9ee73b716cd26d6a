package main

import (
	"reflect"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"

	"colab/internal/domain"
	"colab/internal/engine/auth"
)

func TestFieldRows(t *testing.T) {
	rows, err := fieldRows(struct {
		Name    string            `json:"name"`
		Count   int               `json:"count"`
		Tags    []string          `json:"tags"`
		Extra   map[string]string `json:"extra"`
		Missing *string           `json:"missing"`
	}{Name: "alpha", Count: 3, Tags: []string{"a", "b"}, Extra: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []table.Row{
		{"count", 3.0},
		{"extra", `{"k":"v"}`},
		{"missing", ""},
		{"name", "alpha"},
		{"tags", `["a","b"]`},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows %v", rows)
	}
	rows, err = fieldRows([]int{1, 2})
	if err != nil || len(rows) != 1 || rows[0][1] != "[1,2]" {
		t.Fatalf("non-object rows %v %v", rows, err)
	}
}

func TestRoleRowsOrderedByRank(t *testing.T) {
	h := auth.NewHierarchy(map[string]domain.Role{
		"ZED":    domain.RoleGrunt,
		"AMY":    domain.RoleSupervisor,
		"BOB":    domain.RoleGrunt,
		"CARLOS": domain.RoleManager,
	})
	got := roleRows(h)
	want := []table.Row{
		{"AMY", "supervisor"},
		{"CARLOS", "manager"},
		{"BOB", "grunt"},
		{"ZED", "grunt"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows %v", got)
	}
}
