// Package daemonrun hosts the foreground daemon runtime shared by
// "narrasync serve" and the narrasyncd binary.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"narrasync/internal/config"
	"narrasync/internal/daemon"
	"narrasync/internal/logging"
	"narrasync/internal/notifications"
	"narrasync/internal/preflight"
	"narrasync/internal/projectstore"
	"narrasync/internal/services/voice"
	"narrasync/internal/timeline"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the narrasync daemon and blocks until cmdCtx is cancelled or
// the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("narrasync-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update narrasync.log link: %v\n", err)
	}
	pidPath := filepath.Join(cfg.Paths.DataDir, "narrasyncd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logPreflight(signalCtx, logger, cfg)

	store, err := projectstore.Open(cfg)
	if err != nil {
		logger.Error("open project store", logging.Error(err))
		return err
	}

	generator := voice.NewClient(voice.ConfigFromApp(cfg))
	manager := timeline.NewManager(signalCtx, cfg, store, generator, logger)
	notifier := notifications.NewService(cfg)
	if notifications.Enabled(notifier) {
		manager.OnRegenerated(notifyOutcomes(signalCtx, notifier, logger))
	}

	d, err := daemon.New(cfg, store, manager, logger)
	if err != nil {
		manager.Close()
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other narrasync editor or check paths.api_bind"),
			logging.String(logging.FieldImpact, "projects are not being served"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("narrasync daemon shutting down")
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "regeneration or persistence may fail"),
		)
	}
	logger.Info("preflight complete",
		logging.String(logging.FieldEventType, "preflight_snapshot"),
		logging.Int("checks", len(results)),
		logging.Bool("voice_key_present", strings.TrimSpace(cfg.Voice.APIKey) != ""),
		logging.String("voice_base_url", cfg.Voice.BaseURL),
		logging.Float64("words_per_minute", cfg.Timeline.WordsPerMinute),
		logging.Int64("resync_threshold_ms", cfg.Timeline.ResyncThresholdMs),
	)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "narrasync.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
