package models

import "testing"

func TestIsAdminUser(t *testing.T) {
	tests := []struct {
		requester string
		extra     []string
		want      bool
	}{
		{"System", nil, true},
		{"system admin", nil, true},
		{"Admin", nil, true},
		{"jdoe", nil, false},
		{"jdoe", []string{"JDoe"}, true},
		{"", nil, false},
	}

	for _, tt := range tests {
		if got := IsAdminUser(tt.requester, tt.extra); got != tt.want {
			t.Fatalf("IsAdminUser(%q, %v) = %v, want %v", tt.requester, tt.extra, got, tt.want)
		}
	}
}
