package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing dir child", filepath.Join(logs, "log_1.csv"), false},
		{"nested not yet created", filepath.Join(logs, "2026", "log.csv"), false},
		{"the directory itself", logs, false},
		{"parent traversal", filepath.Join(logs, "..", "escape.csv"), true},
		{"sibling", filepath.Join(dir, "other", "x.csv"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, logs)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	outside := filepath.Join(dir, "outside")
	os.MkdirAll(logs, 0o755)
	os.MkdirAll(outside, 0o755)
	if err := os.Symlink(outside, filepath.Join(logs, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(logs, "link", "new.csv"), logs); err == nil {
		t.Error("symlink escape was accepted")
	}
}

func TestJoinWithin(t *testing.T) {
	dir := t.TempDir()
	if _, err := JoinWithin(dir, "auto_save_20260101_000000.csv"); err != nil {
		t.Errorf("JoinWithin: %v", err)
	}
	if _, err := JoinWithin(dir, "../../x.csv"); err == nil {
		t.Error("JoinWithin accepted traversal")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"auto_save":    "auto_save",
		"../../etc":    "etc",
		"my log #1":    "my_log_1",
		"":             "unnamed",
		"___":          "unnamed",
		"trip/2026-05": "trip_2026-05",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
