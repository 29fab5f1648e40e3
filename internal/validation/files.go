package validation

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/localfs"
	"github.com/clinops/intake-tracker/internal/models"
)

// ErrContentMismatch means a file's bytes do not look like any allowed document type.
var ErrContentMismatch = errors.New("file content does not match an allowed document type")

// DefaultAllowedMIMEs are the content types accepted when sniffing is enabled.
var DefaultAllowedMIMEs = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/tiff",
}

// CollectFiles turns command-line paths into file references. A leading ~ is
// expanded. Directories are expanded one level deep (regular, non-hidden
// files only, sorted by name).
func CollectFiles(paths []string) ([]models.FileRef, error) {
	var refs []models.FileRef

	for _, arg := range paths {
		p, err := localfs.ExpandHome(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		entry, info, err := localfs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			refs = append(refs, fileRef(entry))
			continue
		}

		entries, err := localfs.ListFiles(p, localfs.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}
		for _, e := range entries {
			refs = append(refs, fileRef(e))
		}
	}

	return refs, nil
}

func fileRef(e localfs.FileEntry) models.FileRef {
	return models.FileRef{
		Name: e.Name,
		Path: e.Path,
		Size: e.Size,
	}
}

// SniffContent detects the content type from the head of the file, records it
// on ref and checks it against allowed.
func SniffContent(ref *models.FileRef, allowed []string) error {
	f, err := os.Open(ref.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", ref.Name, err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(io.LimitReader(f, constants.SniffHeaderBytes))
	if err != nil {
		return fmt.Errorf("failed to detect content type of %s: %w", ref.Name, err)
	}
	ref.DetectedMIME = mtype.String()

	for _, want := range allowed {
		for m := mtype; m != nil; m = m.Parent() {
			if m.Is(want) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: detected %s", ErrContentMismatch, mtype.String())
}

// SniffAccepted re-checks the accepted files of res by content and moves
// mismatches to Rejected. It is a no-op unless limits.SniffContent is set.
func SniffAccepted(res Result, limits Limits, allowed []string) Result {
	if !limits.SniffContent || len(res.Accepted) == 0 {
		return res
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedMIMEs
	}

	out := Result{Rejected: append([]Rejection(nil), res.Rejected...), Summary: res.Summary}
	for _, ref := range res.Accepted {
		if err := SniffContent(&ref, allowed); err != nil {
			reason := "unreadable file"
			if errors.Is(err, ErrContentMismatch) {
				reason = "content is not a supported document (" + ref.DetectedMIME + ")"
			}
			out.Rejected = append(out.Rejected, Rejection{Filename: ref.Name, Reason: reason})
			continue
		}
		out.Accepted = append(out.Accepted, ref)
	}
	return out
}
