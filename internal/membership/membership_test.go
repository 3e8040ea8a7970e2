package membership

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestExtractIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "single id",
			input:  "banned 389184170739240970 for cheating",
			expect: []string{"389184170739240970"},
		},
		{
			name:   "multiple ids and mention",
			input:  "<@1414026815873486868> and 12345678901234567",
			expect: []string{"1414026815873486868", "12345678901234567"},
		},
		{
			name:  "too short",
			input: "ticket 1234567890",
		},
		{
			name:  "too long",
			input: "123456789012345678901",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractIDs(tt.input)
			if len(got) == 0 && len(tt.expect) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.expect) {
				t.Fatalf("expected %v, got %v", tt.expect, got)
			}
		})
	}
}

type stubSource struct {
	messages []string
	err      error
}

func (s stubSource) BlacklistMessages(context.Context) ([]string, error) {
	return s.messages, s.err
}

func TestRefreshBlacklist(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "declined.txt"), nil)

	n, err := r.RefreshBlacklist(context.Background(), stubSource{messages: []string{
		"389184170739240970 spam",
		"no ids here",
		"389184170739240970 again, and 1414026815873486868",
	}})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unique ids, got %d", n)
	}
	if !r.IsBlacklisted("1414026815873486868") || r.IsBlacklisted("1") {
		t.Fatalf("unexpected blacklist membership")
	}

	if _, err := r.RefreshBlacklist(context.Background(), stubSource{err: errors.New("no channel")}); err == nil {
		t.Fatalf("expected refresh error")
	}
	if !r.IsBlacklisted("389184170739240970") {
		t.Fatalf("failed refresh must keep the previous blacklist")
	}
}

func TestDeclinedRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "declined.txt")
	r := NewRegistry(path, nil)

	if r.IsPreviouslyDeclined("42") {
		t.Fatalf("missing registry must be empty")
	}

	if err := r.RecordDeclined("42"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordDeclined("43"); err != nil {
		t.Fatalf("record: %v", err)
	}

	if !r.IsPreviouslyDeclined("42") || !r.IsPreviouslyDeclined("43") {
		t.Fatalf("recorded users must be declined")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "42\n43\n" {
		t.Fatalf("unexpected registry content %q", data)
	}
}

func TestDeclinedRegistryToleratesBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "declined.txt")
	if err := os.WriteFile(path, []byte("\n  77  \n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !NewRegistry(path, nil).IsPreviouslyDeclined("77") {
		t.Fatalf("expected trimmed id to match")
	}
}
