package instance

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"main", true},
		{"support-br", true},
		{"tenant_01", true},
		{"7", true},
		{strings.Repeat("a", 32), true},
		{strings.Repeat("a", 33), false},
		{"", false},
		{"Main", false},
		{"-flag", false},
		{"_hidden", false},
		{"has space", false},
		{"../escape", false},
		{"a/b", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.ok && err != nil {
			t.Errorf("ValidateName(%q) error = %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tt.name, err)
		}
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := NewLayout("main", "/tmp/focos").Validate(); err != nil {
		t.Errorf("short layout: %v", err)
	}
	deep := "/tmp/" + strings.Repeat("d", 120)
	if err := NewLayout("main", deep).Validate(); !errors.Is(err, ErrPathTooLong) {
		t.Errorf("deep layout err = %v, want ErrPathTooLong", err)
	}
}
