package domain

import "testing"

func TestValidateStatusPassesRecognizedValues(t *testing.T) {
	for _, s := range []string{"preparing", "in_progress", "completed", "cancelled"} {
		if got := ValidateStatus(s); got != ActivityStatus(s) {
			t.Fatalf("ValidateStatus(%q) = %q", s, got)
		}
	}
}

func TestValidateStatusCoercesUnrecognizedValues(t *testing.T) {
	for _, s := range []string{"", "done", "PREPARING", "in-progress", "archived", "postponed"} {
		if got := ValidateStatus(s); got != StatusPreparing {
			t.Fatalf("ValidateStatus(%q) = %q, want %q", s, got, StatusPreparing)
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	if !IsValidStatus("in_progress") {
		t.Fatal("in_progress should be valid")
	}
	if IsValidStatus("In_Progress") {
		t.Fatal("status matching is case-sensitive")
	}
}
