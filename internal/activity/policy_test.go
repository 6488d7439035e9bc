package activity

import (
	"testing"

	"github.com/opsdesk/opsdesk/internal/auth"
)

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

func TestForcedResponsible(t *testing.T) {
	viewer := &auth.Principal{ID: 3, Role: auth.RoleView}
	editor := &auth.Principal{ID: 4, Role: auth.RoleEditor}
	admin := &auth.Principal{ID: 5, Role: auth.RoleAdmin}

	// View actors always get themselves, even when a different responsible
	// was requested.
	if got := ForcedResponsible(viewer, int64Ptr(99)); got == nil || *got != 3 {
		t.Errorf("view actor: expected responsible forced to 3, got %v", got)
	}
	if got := ForcedResponsible(viewer, nil); got == nil || *got != 3 {
		t.Errorf("view actor with no responsible: expected 3, got %v", got)
	}

	if got := ForcedResponsible(editor, int64Ptr(99)); got == nil || *got != 99 {
		t.Errorf("editor: expected requested responsible kept, got %v", got)
	}
	if got := ForcedResponsible(admin, nil); got != nil {
		t.Errorf("admin with no responsible: expected nil, got %v", got)
	}
}

func TestCanUpdate(t *testing.T) {
	owned := &Activity{ID: 1, CreatedBy: int64Ptr(10)}
	assigned := &Activity{ID: 2, CreatedBy: int64Ptr(99), ResponsibleID: int64Ptr(10)}
	foreign := &Activity{ID: 3, CreatedBy: int64Ptr(99), ResponsibleID: int64Ptr(98)}

	tests := []struct {
		name     string
		p        *auth.Principal
		activity *Activity
		want     bool
	}{
		{"admin any row", &auth.Principal{ID: 1, Role: auth.RoleAdmin}, foreign, true},
		{"editor own row", &auth.Principal{ID: 10, Role: auth.RoleEditor}, owned, true},
		{"editor assigned row", &auth.Principal{ID: 10, Role: auth.RoleEditor}, assigned, true},
		{"editor foreign row", &auth.Principal{ID: 10, Role: auth.RoleEditor}, foreign, false},
		{"view own row still denied", &auth.Principal{ID: 10, Role: auth.RoleView}, owned, false},
		{"view assigned row still denied", &auth.Principal{ID: 10, Role: auth.RoleView}, assigned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanUpdate(tt.p, tt.activity); got != tt.want {
				t.Errorf("CanUpdate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanRead(t *testing.T) {
	foreign := &Activity{ID: 3, CreatedBy: int64Ptr(99), ResponsibleID: int64Ptr(98)}
	assigned := &Activity{ID: 2, CreatedBy: int64Ptr(99), ResponsibleID: int64Ptr(10)}

	if !CanRead(&auth.Principal{ID: 1, Role: auth.RoleAdmin}, foreign) {
		t.Error("admin should read any row")
	}
	if CanRead(&auth.Principal{ID: 10, Role: auth.RoleEditor}, foreign) {
		t.Error("editor should not read a foreign row")
	}
	if !CanRead(&auth.Principal{ID: 10, Role: auth.RoleView}, assigned) {
		t.Error("view actor should read a row assigned to them")
	}
}

func TestCanDelete(t *testing.T) {
	if !CanDelete(&auth.Principal{ID: 1, Role: auth.RoleAdmin}) {
		t.Error("admin should delete")
	}
	if CanDelete(&auth.Principal{ID: 1, Role: auth.RoleEditor}) {
		t.Error("editor should not delete")
	}
	if CanDelete(&auth.Principal{ID: 1, Role: auth.RoleView}) {
		t.Error("view actor should not delete")
	}
}

func TestOverdue(t *testing.T) {
	due := "2026-08-01"
	tests := []struct {
		name string
		a    Activity
		want bool
	}{
		{"past due, pending", Activity{DueDate: &due, Status: StatusPending}, true},
		{"past due, in progress", Activity{DueDate: &due, Status: StatusInProgress}, true},
		{"past due, completed", Activity{DueDate: &due, Status: StatusCompleted}, false},
		{"no due date", Activity{Status: StatusPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overdue("2026-08-31"); got != tt.want {
				t.Errorf("Overdue() = %v, want %v", got, tt.want)
			}
		})
	}
}
