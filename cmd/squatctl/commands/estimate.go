package commands

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/pose"
)

// ErrNoPoseEndpoint is returned by estimate without pose.endpoint configured.
var ErrNoPoseEndpoint = errors.New("pose endpoint is not configured")

func newEstimateCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <image.jpg>...",
		Short: "Send images to the pose service and print one recording line per image",
		Long: `Estimate posts each image to pose.endpoint and prints the detected poses
as JSON lines, ready to be appended to a recording for replay.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Pose.Endpoint == "" {
				return ErrNoPoseEndpoint
			}

			var estimator pose.Estimator = pose.NewHTTPEstimator(cfg.Pose.Endpoint, cfg.Pose.Timeout)
			out := cmd.OutOrStdout()
			for _, path := range args {
				image, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "Can't read image %s", path)
				}

				frame, err := estimator.Estimate(cmd.Context(), image)
				if err != nil {
					return errors.Wrapf(err, "image %s", path)
				}
				logger.Debug("poses estimated", "image", path, "poses", len(frame.Poses))

				line, err := pose.EncodeFrame(frame)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
			}

			return nil
		},
	}
}
