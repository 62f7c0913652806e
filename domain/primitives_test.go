package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func wantErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *domain.Error, got %T: %v", err, err)
	}
	if derr.Code != code {
		t.Errorf("error code = %s, want %s", derr.Code, code)
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID(NewID()) error = %v", err)
	}
	if parsed != id {
		t.Errorf("ParseID round trip = %s, want %s", parsed, id)
	}

	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("ParseID accepted a malformed UUID")
	}
}

func TestParseEmail(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: "john@test.com"},
		{name: "leading space", raw: " john@test.com", wantErr: true},
		{name: "trailing space", raw: "john@test.com ", wantErr: true},
		{name: "missing at sign", raw: "john.test.com", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "overlong", raw: strings.Repeat("a", 250) + "@x.io", wantErr: true},
		{name: "exactly 254 chars", raw: strings.Repeat("a", 248) + "@xy.io"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := ParseEmail(tt.raw)
			if tt.wantErr {
				wantErrorCode(t, err, ErrorCodeInvalidEmail)
				return
			}
			if err != nil {
				t.Fatalf("ParseEmail(%q) error = %v", tt.raw, err)
			}
			if email.String() != tt.raw {
				t.Errorf("Email = %q, want %q", email, tt.raw)
			}
		})
	}
}

func TestParsePassword(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{name: "valid 12 chars 10 distinct", raw: "abcdefghijkl"},
		{name: "leading space", raw: "  abcdefghijkl", wantCode: ErrorCodeInvalidPassword},
		{name: "trailing space", raw: "abcdefghijkl ", wantCode: ErrorCodeInvalidPassword},
		{name: "too short", raw: "abcdefghijk", wantCode: ErrorCodePasswordTooWeak},
		{name: "three distinct chars", raw: "aaabbbcccddd", wantCode: ErrorCodePasswordTooWeak},
		{name: "exactly six distinct", raw: "aabbccddeeff"},
		{name: "over 72 bytes", raw: strings.Repeat("abcdefgh", 10), wantCode: ErrorCodeInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pw, err := ParsePassword(tt.raw)
			if tt.wantCode != "" {
				wantErrorCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("ParsePassword(%q) error = %v", tt.raw, err)
			}
			if pw.Plaintext() != tt.raw {
				t.Errorf("Plaintext() = %q, want %q", pw.Plaintext(), tt.raw)
			}
			if pw.String() != "[REDACTED]" {
				t.Errorf("String() = %q, must be redacted", pw.String())
			}
		})
	}
}

func TestNewNumericDate(t *testing.T) {
	if _, err := NewNumericDate(0); err == nil {
		t.Error("NewNumericDate(0) accepted")
	}
	if _, err := NewNumericDate(-5); err == nil {
		t.Error("NewNumericDate(-5) accepted")
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NumericDateFromTime(now)
	if d.Time() != now {
		t.Errorf("Time() = %v, want %v", d.Time(), now)
	}
	if !d.Before(d + 1) {
		t.Error("Before() misordered adjacent seconds")
	}
}
