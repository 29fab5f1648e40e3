package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/devserver"
)

func newDevServerCmd() *cobra.Command {
	var (
		addr     string
		twoPhase bool
		step     time.Duration
		quota    int
		key      string
		redisURL string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local stand-in for the extraction service",
		Long: `Serve the upload, job, batch and progress websocket endpoints locally
with simulated processing, for development and demos.

Files whose name contains "fail" fail processing. Re-uploading a document
with the same content is reported as a duplicate, and uploads beyond
--quota are refused with an upgrade message.

Examples:
  intake-tracker devserver
  intake-tracker devserver --two-phase --step 1s
  intake-tracker devserver --redis-url redis://127.0.0.1:6379/0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			opts := devserver.Options{
				TwoPhase:     twoPhase,
				StepInterval: step,
				Quota:        quota,
				APIKey:       key,
			}
			if redisURL != "" {
				pub, err := devserver.NewRedisPublisher(redisURL, logger)
				if err != nil {
					return err
				}
				defer pub.Close()
				opts.Publishers = append(opts.Publishers, pub)
			}

			return devserver.New(opts, logger).ListenAndServe(GetContext(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8088", "Listen address")
	cmd.Flags().BoolVar(&twoPhase, "two-phase", false, "Answer uploads with separate upload and processing jobs")
	cmd.Flags().DurationVar(&step, "step", constants.DevServerStepInterval, "Simulated processing time per file")
	cmd.Flags().IntVar(&quota, "quota", constants.DevServerDefaultQuota, "Documents accepted before uploads are refused (0 = unlimited)")
	cmd.Flags().StringVar(&key, "require-key", "", "Require this bearer token on API requests")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Also publish progress to Redis at this URL")

	return cmd
}
