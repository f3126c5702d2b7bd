package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     string
		perm     string
		expected bool
	}{
		{RoleViewer, PermView, true},
		{RoleViewer, PermEdit, false},
		{RoleReviewer, PermEdit, true},
		{RoleReviewer, PermManageAdmins, false},
		{RoleAdmin, PermManageAdmins, true},
		{RoleAdmin, PermViewAudit, true},
		{"owner", PermView, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+":"+tt.perm, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.expected)
			}
		})
	}
}

func TestCanEdit(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		role     string
		override *bool
		expected bool
	}{
		{"viewer default", RoleViewer, nil, false},
		{"viewer cannot be granted", RoleViewer, &yes, false},
		{"reviewer default", RoleReviewer, nil, true},
		{"reviewer revoked", RoleReviewer, &no, false},
		{"admin default", RoleAdmin, nil, true},
		{"unknown role", "guest", &yes, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanEdit(tt.role, tt.override); got != tt.expected {
				t.Errorf("CanEdit = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsElevation(t *testing.T) {
	if !IsElevation(RoleViewer, RoleReviewer) || !IsElevation(RoleReviewer, RoleAdmin) {
		t.Error("expected upward moves to be elevations")
	}
	if IsElevation(RoleAdmin, RoleViewer) || IsElevation(RoleReviewer, RoleReviewer) {
		t.Error("downgrades and no-ops are not elevations")
	}
}
