package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/config"
	"github.com/breeze-rmm/audiocapture/internal/health"
	"github.com/breeze-rmm/audiocapture/internal/platform"
	"github.com/breeze-rmm/audiocapture/internal/sessions"
)

var (
	excludeTree bool
	noFallback  bool
)

// Process and session lookups used before capture; tests replace them.
var (
	processExists   = sessions.Exists
	hasAudioSession = sessions.HasSession
)

var captureCmd = &cobra.Command{
	Use:   "capture <pid>",
	Short: "Stream a process's audio as PCM on stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig()
		if err != nil {
			return err
		}
		defer closer.Close()

		target, err := parseTarget(args[0], cfg)
		if err != nil {
			return err
		}
		if noFallback {
			cfg.AllowDeviceFallback = false
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCapture(ctx, cfg, platform.Backend(), target, os.Stdout)
	},
}

func init() {
	captureCmd.Flags().BoolVar(&excludeTree, "exclude-tree", false, "capture everything except the target process tree")
	captureCmd.Flags().BoolVar(&noFallback, "no-fallback", false, "fail instead of capturing the whole output device")
}

func parseTarget(arg string, cfg *config.Config) (capture.Target, error) {
	pid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return capture.Target{}, fmt.Errorf("invalid process id %q", arg)
	}
	mode, err := capture.ParseLoopbackMode(cfg.LoopbackMode)
	if err != nil {
		return capture.Target{}, err
	}
	if excludeTree {
		mode = capture.ExcludeTree
	}
	t := capture.Target{ProcessID: uint32(pid), Mode: mode}
	return t, t.Validate()
}

// checkSession verifies the target before any capture attempt.
func checkSession(cfg *config.Config, pid uint32) error {
	if !processExists(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}
	if !cfg.RequireAudioSession {
		return nil
	}
	ok, err := hasAudioSession(pid)
	if errors.Is(err, sessions.ErrUnsupported) {
		log.Debug("audio session check skipped", "error", err)
		return nil
	}
	if err != nil {
		log.Warn("audio session check failed, continuing", "pid", pid, "error", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("process %d has no audio session; run 'audiocapture list' to see candidates", pid)
	}
	return nil
}

func runCapture(ctx context.Context, cfg *config.Config, backend capture.Backend, target capture.Target, sink io.Writer) error {
	if err := checkSession(cfg, target.ProcessID); err != nil {
		return err
	}

	monitor := health.NewMonitor()
	engine, err := capture.NewEngine(target, sink, backend,
		capture.WithActivationTimeout(cfg.ActivationTimeout()),
		capture.WithPollInterval(cfg.PollInterval()),
		capture.WithStopTimeout(cfg.StopTimeout()),
		capture.WithDeviceFallback(cfg.AllowDeviceFallback),
		capture.WithHealth(monitor),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, capture.ErrClosed) {
			return nil
		}
		return err
	}
	log.Info("capturing", "pid", target.ProcessID, "mode", engine.Mode().String(), "health", string(monitor.Overall()))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := engine.Close(); err != nil {
			log.Warn("stop capture", "error", err)
		}
		return nil
	case <-engine.Done():
	}

	err = engine.Err()
	if capture.IsEngineError(err, capture.SinkClosed) {
		// The reader went away; that is how consumers end a capture.
		log.Info("output closed by reader")
		return nil
	}
	return err
}
