// Package localfs lists the documents a user points the CLI at.
package localfs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileEntry represents a regular file found on disk.
type FileEntry struct {
	Path    string    // Full path to the file
	Name    string    // Base name of the file
	Size    int64     // Size in bytes
	ModTime time.Time // Last modification time
}

// ListOptions controls which entries ListFiles returns.
type ListOptions struct {
	// IncludeHidden returns dotfiles too.
	IncludeHidden bool
}

// ListFiles returns the regular files directly inside dir, sorted by name.
// Subdirectories, symlinks and other special files are skipped.
func ListFiles(dir string, opts ListOptions) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !opts.IncludeHidden && IsHiddenName(name) {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		result = append(result, newEntry(filepath.Join(dir, name), info))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Stat describes a single path.
func Stat(path string) (FileEntry, fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, nil, err
	}
	return newEntry(path, info), info, nil
}

func newEntry(path string, info fs.FileInfo) FileEntry {
	return FileEntry{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// IsHiddenName reports whether name is a dotfile. "." and ".." are not hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
