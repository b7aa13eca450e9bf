package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/config"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/metrics"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/mint"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/pose"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/session"
	"github.com/Youngkwon-Lee/sol-dapp-squat/squat"
)

// ErrNoMintEndpoint is returned by replay --mint without mint.endpoint configured.
var ErrNoMintEndpoint = errors.New("mint endpoint is not configured")

type replayCommand struct {
	global      *globalOptions
	subject     string
	wallet      string
	mode        string
	save        bool
	mint        bool
	metricsAddr string
	width       float64
	height      float64
}

func newReplayCommand(global *globalOptions) *cobra.Command {
	rc := &replayCommand{global: global}

	cobraCmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "Count repetitions in a recorded keypoint stream",
		Long: `Replay reads one pose estimator output per line and counts squats.

Each line is a PoseNet style pose, an array of poses or
{"width":640,"height":480,"poses":[...]}.`,
		Args: cobra.ExactArgs(1),
		RunE: rc.run,
	}

	cobraCmd.Flags().StringVar(&rc.subject, "subject", "", "subject identifier workouts are stored under (default session id)")
	cobraCmd.Flags().StringVar(&rc.wallet, "wallet", "", "wallet address for history and minting")
	cobraCmd.Flags().StringVar(&rc.mode, "mode", "", "detection mode: front or side (default from config)")
	cobraCmd.Flags().BoolVar(&rc.save, "save", false, "store the workout when replay ends")
	cobraCmd.Flags().BoolVar(&rc.mint, "mint", false, "mint the challenge token when target is reached")
	cobraCmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while replaying (default metrics.listen)")
	cobraCmd.Flags().Float64Var(&rc.width, "width", 640, "frame width for lines without one")
	cobraCmd.Flags().Float64Var(&rc.height, "height", 480, "frame height for lines without one")

	return cobraCmd
}

func (rc *replayCommand) run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := rc.global.load(cmd)
	if err != nil {
		return err
	}

	mode := cfg.Detector.DefaultMode()
	if rc.mode != "" {
		mode, err = squat.ParseMode(rc.mode)
		if err != nil {
			return err
		}
	}

	file, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "Can't open recording")
	}
	defer file.Close()

	recorder := metrics.NewRecorder()
	if addr := metricsAddress(rc.metricsAddr, cfg); addr != "" {
		stop, serveErr := serveMetrics(addr, recorder)
		if serveErr != nil {
			return serveErr
		}
		defer stop()
		logger.Info("serving metrics", "addr", addr)
	}

	sess, err := session.New(sessionOptions(cfg, mode, rc.subject, rc.wallet, recorder, logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fallbackReported := false
	sink := func(upd session.Update) {
		if upd.RepetitionCompleted {
			fmt.Fprintf(out, "rep %d\n", upd.RepetitionCount)
		}
		if upd.FallbackSuggested && !fallbackReported {
			fallbackReported = true
			logger.Warn("body not visible for a long time, consider manual counting", "reason", upd.VisibilityError)
		}
		if !upd.FallbackSuggested {
			fallbackReported = false
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	source := pose.NewJSONLSource(file, rc.width, rc.height)
	if err := sess.Run(ctx, source, sink); err != nil {
		return err
	}

	final := sess.Snapshot()
	fmt.Fprintf(out, "total %d reps (target %d reached: %t)\n", final.RepetitionCount, cfg.Session.TargetReps, final.Eligible)

	if rc.save {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := sess.Finish(ctx, store)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved workout %s\n", id)
	}

	if rc.mint {
		if cfg.Mint.Endpoint == "" {
			return ErrNoMintEndpoint
		}
		minter := mint.NewHTTPMinter(cfg.Mint.Endpoint, cfg.Mint.Timeout)
		signature, err := sess.Mint(ctx, minter, mint.Request{
			Name:   cfg.Mint.Name,
			Symbol: cfg.Mint.Symbol,
			URI:    cfg.Mint.URI,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "minted %s\n", signature)
	}

	return nil
}

// sessionOptions maps configuration onto session options
func sessionOptions(cfg *config.Config, mode squat.Mode, subject, wallet string,
	recorder *metrics.Recorder, logger *slog.Logger,
) session.Options {
	return session.Options{
		SubjectID:     subject,
		WalletAddress: wallet,
		Mode:          mode,
		Detectors: map[squat.Mode]squat.Config{
			squat.FrontView: cfg.Detector.For(squat.FrontView),
			squat.SideView:  cfg.Detector.For(squat.SideView),
		},
		TargetReps:        cfg.Session.TargetReps,
		SampleEvery:       cfg.Session.SampleEvery,
		FallbackAfter:     cfg.Session.FallbackAfterErrors,
		Smoothing:         cfg.Session.Smoothing,
		FrameRate:         cfg.Session.FrameRate,
		SubjectMaxNoMatch: cfg.Session.SubjectMaxNoMatch,
		Logger:            logger,
		Metrics:           recorder,
	}
}

// metricsAddress prefers the flag over metrics.listen. Empty disables the endpoint
func metricsAddress(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Metrics.Listen
}

// serveMetrics starts Prometheus endpoint and returns its shutdown function
func serveMetrics(addr string, recorder *metrics.Recorder) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "Can't listen for metrics")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(listener)
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
