package verification

import (
	"testing"

	"github.com/runferry/portal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"380501234567", "380501234567"},
		{"+38 (050) 123-45-67", "380501234567"},
		{"0501234567", "380501234567"},
		{"050 123 45 67", "380501234567"},
		{"501234567", "380501234567"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Errorf("Normalize(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_invalid(t *testing.T) {
	tests := []struct {
		in   string
		code string
	}{
		{"", model.ErrMissingPhone},
		{"   ", model.ErrMissingPhone},
		{"12345", model.ErrInvalidPhone},
		{"+1 202 555 0199", model.ErrInvalidPhone},
		{"38050123456", model.ErrInvalidPhone},
		{"8050123456", model.ErrInvalidPhone},
		{"abc", model.ErrInvalidPhone},
	}
	for _, tt := range tests {
		_, err := Normalize(tt.in)
		if !model.HasCode(err, tt.code) {
			t.Errorf("Normalize(%q) error = %v, want %s", tt.in, err, tt.code)
		}
	}
}

func TestFormatForDisplay(t *testing.T) {
	if got := FormatForDisplay("380501234567"); got != "+380 50 123 45 67" {
		t.Errorf("FormatForDisplay() = %q", got)
	}
	if got := FormatForDisplay("0501234567"); got != "+380 50 123 45 67" {
		t.Errorf("FormatForDisplay(national) = %q", got)
	}
	if got := FormatForDisplay("123"); got != "123" {
		t.Errorf("FormatForDisplay(short) = %q, want input unchanged", got)
	}
}
