package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinops/intake-tracker/internal/tracker"
)

func newWatchCmd() *cobra.Command {
	var req tracker.StartRequest
	var expanded bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a job that is already running",
		Long: `Attach to a job submitted earlier and track it until it finishes.

The widget state saved by the last run (open, minimized or expanded) is
restored once live progress for the job arrives.

Examples:
  intake-tracker watch --job 6f1c...
  intake-tracker watch --upload-job 11aa... --processing-job 22bb...
  intake-tracker watch --batch 9e0d...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (req.UploadJobID == "") != (req.ProcessingJobID == "") {
				return fmt.Errorf("--upload-job and --processing-job must be given together")
			}
			if req.JobID == "" && req.UploadJobID == "" && req.BatchID == "" {
				return fmt.Errorf("one of --job, --upload-job/--processing-job or --batch is required")
			}

			logger := GetLogger()
			ctx := GetContext()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			t, err := newTracking(ctx, cfg, logger, expanded)
			if err != nil {
				return err
			}
			defer t.close()

			req.Resume = true
			id, err := t.engine.Start(ctx, req)
			if err != nil {
				return err
			}
			return t.follow(ctx, id)
		},
	}

	cmd.Flags().StringVar(&req.JobID, "job", "", "Job id")
	cmd.Flags().StringVar(&req.UploadJobID, "upload-job", "", "Upload-phase job id")
	cmd.Flags().StringVar(&req.ProcessingJobID, "processing-job", "", "Processing-phase job id")
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "Batch id")
	cmd.Flags().BoolVar(&expanded, "expanded", false, "List every file as it is processed")

	return cmd
}
