package localfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsHiddenName(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{".hidden", true},
		{".DS_Store", true},
		{"visible.pdf", false},
		{"..", false}, // Parent dir reference starts with . but is special
		{".", false},  // Current dir reference
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHiddenName(tt.name); got != tt.expected {
				t.Errorf("IsHiddenName(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.pdf", "a.png", ".DS_Store"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "scans"), 0755); err != nil {
		t.Fatal(err)
	}

	entries, err := ListFiles(dir, ListOptions{})
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	want := []string{"a.png", "c.pdf"}
	if len(entries) != len(want) {
		t.Fatalf("ListFiles() returned %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d].Name = %q, want %q", i, entries[i].Name, name)
		}
		if entries[i].Size != 4 {
			t.Errorf("entries[%d].Size = %d, want 4", i, entries[i].Size)
		}
	}

	entries, err = ListFiles(dir, ListOptions{IncludeHidden: true})
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(entries) != 3 || entries[0].Name != ".DS_Store" {
		t.Errorf("ListFiles(IncludeHidden) = %v", entries)
	}

	if _, err := ListFiles(filepath.Join(dir, "missing"), ListOptions{}); err == nil {
		t.Error("ListFiles() should fail for a missing directory")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/docs/a.pdf", filepath.Join(home, "docs", "a.pdf")},
		{"/abs/path.pdf", "/abs/path.pdf"},
		{"relative.pdf", "relative.pdf"},
		{"~other/x", "~other/x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandHome(tt.in)
			if err != nil {
				t.Fatalf("ExpandHome(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
