package cli

import (
	"fmt"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/dispatch"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/progress"
	"github.com/clinops/intake-tracker/internal/validation"
)

func newSubmitCmd() *cobra.Command {
	var meta models.SubmissionMeta
	var noWait bool
	var expanded bool

	cmd := &cobra.Command{
		Use:   "submit <file|dir> [file|dir...]",
		Short: "Upload documents and track their processing",
		Long: `Validate and upload a batch of documents, then follow the extraction
job until it finishes.

Directories are expanded to the files they contain (not recursively).
Files that fail validation are listed and never leave the machine.
Files the service skips (duplicates, quota) are listed with the reason
it gave; the rest of the batch is still processed.

Examples:
  intake-tracker submit referral.pdf labs.pdf --patient p-1042
  intake-tracker submit ./scans --document-type intake --expanded
  intake-tracker submit report.pdf --no-wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			ctx := GetContext()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			files, err := validation.CollectFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files found in %v", args)
			}

			t, err := newTracking(ctx, cfg, logger, expanded)
			if err != nil {
				return err
			}
			defer t.close()

			d := dispatch.New(t.client, t.engine, t.bus, validation.LimitsFromConfig(cfg), logger)

			total := lo.SumBy(files, func(f models.FileRef) int64 { return f.Size })
			bar := progress.NewUploadBar(total, "Uploading")

			res, err := d.Submit(ctx, files, meta, api.WithUploadProgress(bar))
			if err != nil {
				// Banners describing the failure were already printed
				bar.Abandon()
				return err
			}
			bar.Finish()

			if noWait {
				fmt.Fprintf(t.out, "Tracking session %s started for %d file(s)\n", res.SessionID, res.Response.PayloadCount)
				return nil
			}
			return t.follow(ctx, res.SessionID)
		},
	}

	cmd.Flags().StringVar(&meta.PatientID, "patient", "", "Patient identifier sent with the batch")
	cmd.Flags().StringVar(&meta.DocumentType, "document-type", "", "Document type sent with the batch")
	cmd.Flags().StringVar(&meta.SubmittedBy, "submitted-by", os.Getenv("USER"), "Submitter recorded with the batch")
	cmd.Flags().StringVar(&meta.Notes, "notes", "", "Free-text notes sent with the batch")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the upload is accepted")
	cmd.Flags().BoolVar(&expanded, "expanded", false, "List every file as it is processed")

	return cmd
}
