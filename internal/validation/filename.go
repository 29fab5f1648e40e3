// Package validation checks a file selection against the submission rules
// before anything is sent to the extraction service.
package validation

import (
	"fmt"
	"strings"
)

// ValidateFilename validates a filename (not a full path).
//
// The name ends up in a multipart Content-Disposition header and, on the service
// side, in storage keys, so it must be a plain base name.
//
// Returns an error if the filename:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes or other control characters
func ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("filename contains control character: %q", filename)
		}
	}

	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}

	// Names like "scan..v2.pdf" are fine; only the literal dot entries are not
	if filename == "." || filename == ".." {
		return fmt.Errorf("filename cannot be %q", filename)
	}

	return nil
}
