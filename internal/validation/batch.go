package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/models"
)

// ErrNoAcceptedFiles is returned by Result.Err when the whole selection was rejected.
var ErrNoAcceptedFiles = errors.New("no files accepted for submission")

// Limits are the submission rules owned by the surrounding application.
type Limits struct {
	MaxCount          int
	MaxFileSizeBytes  int64
	AllowedExtensions []string // Case-insensitive, leading dot optional
	SniffContent      bool
	// RejectEmpty refuses zero-byte files. Off by default.
	RejectEmpty bool
}

// LimitsFromConfig extracts the submission limits from the loaded configuration.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxCount:          cfg.MaxFiles,
		MaxFileSizeBytes:  cfg.MaxFileSizeBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		SniffContent:      cfg.SniffContent,
	}
}

// Rejection is one file refused before dispatch.
type Rejection struct {
	Filename string
	Reason   string
}

// Result is the outcome of validating a selection.
//
// Summary is set only when the selection as a whole violates a rule (the count
// limit); per-file problems are reported through Rejected.
type Result struct {
	Accepted []models.FileRef
	Rejected []Rejection
	Summary  string
}

// Err returns ErrNoAcceptedFiles when nothing can be submitted.
func (r Result) Err() error {
	if len(r.Accepted) == 0 {
		if r.Summary != "" {
			return fmt.Errorf("%w: %s", ErrNoAcceptedFiles, r.Summary)
		}
		return ErrNoAcceptedFiles
	}
	return nil
}

// Messages renders every rejection as "filename: reason", preceded by the summary if any.
func (r Result) Messages() []string {
	msgs := lo.Map(r.Rejected, func(rej Rejection, _ int) string {
		return rej.Filename + ": " + rej.Reason
	})
	if r.Summary != "" {
		return append([]string{r.Summary}, msgs...)
	}
	return msgs
}

// ValidateBatch checks files against limits. It has no side effects.
//
// Exceeding the count limit rejects the whole selection with a single summary
// message. Otherwise each file is checked on its own, and a bad file never
// blocks the others.
func ValidateBatch(files []models.FileRef, limits Limits) Result {
	var res Result

	if limits.MaxCount > 0 && len(files) > limits.MaxCount {
		res.Summary = fmt.Sprintf("Maximum %d files allowed.", limits.MaxCount)
		res.Rejected = lo.Map(files, func(f models.FileRef, _ int) Rejection {
			return Rejection{Filename: f.Name, Reason: res.Summary}
		})
		return res
	}

	allowed := normalizeExtensions(limits.AllowedExtensions)

	for _, f := range files {
		if reason := checkFile(f, limits, allowed); reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Filename: f.Name, Reason: reason})
			continue
		}
		res.Accepted = append(res.Accepted, f)
	}

	return res
}

func checkFile(f models.FileRef, limits Limits, allowed map[string]struct{}) string {
	if err := ValidateFilename(f.Name); err != nil {
		return err.Error()
	}
	if limits.RejectEmpty && f.Size <= 0 {
		return "file is empty"
	}
	if limits.MaxFileSizeBytes > 0 && f.Size > limits.MaxFileSizeBytes {
		return fmt.Sprintf("exceeds the %d MB size limit", limits.MaxFileSizeBytes/(1024*1024))
	}

	ext := strings.ToLower(filepath.Ext(f.Name))
	if _, ok := allowed[ext]; !ok {
		if ext == "" {
			return "unsupported file type (no extension)"
		}
		return "unsupported file type " + ext
	}
	return ""
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}
