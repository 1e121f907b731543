package validation

import (
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"ada@example.com", true},
		{"ada+tag@example.com", true},
		{"a@b.co", true},

		// Invalid cases
		{"not-an-email", false},
		{"@example.com", false},
		{"ada@", false},
		{"Ada Lovelace <ada@example.com>", false}, // display names not accepted
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidEmail(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "Ada"),
		ValidEmail("email", "ada@example.com"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidEmail("email", "invalid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestMinLength(t *testing.T) {
	if err := MinLength("password", "hunter22", 8)(); err != nil {
		t.Error("Expected no error for string at minimum")
	}
	if err := MinLength("password", "short", 8)(); err == nil {
		t.Error("Expected error for string under minimum")
	}
}
