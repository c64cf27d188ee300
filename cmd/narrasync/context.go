package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"narrasync/internal/config"
	"narrasync/internal/logging"
	"narrasync/internal/projectstore"
	"narrasync/internal/services/voice"
	"narrasync/internal/timeline"
)

type commandContext struct {
	configFlag  *string
	jsonFlag    *bool
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		jsonFlag:    jsonFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	if c.verboseFlag == nil || !*c.verboseFlag {
		return logging.NewNop()
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// session is an open project store plus a timeline manager for one command.
type session struct {
	ctx     context.Context
	cfg     *config.Config
	store   *projectstore.Store
	manager *timeline.Manager
}

func (s *session) open(id string) (*timeline.Engine, error) {
	return s.manager.Open(s.ctx, strings.TrimSpace(id))
}

// withSession opens the store for fn. Mutating sessions hold the editor
// lock so they cannot race a running daemon.
func (c *commandContext) withSession(cmd *cobra.Command, mutate bool, fn func(*session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if mutate {
		lock := flock.New(cfg.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire editor lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another narrasync editor holds %s; stop the daemon or use its HTTP API", cfg.LockPath())
		}
		defer lock.Unlock() //nolint:errcheck
	}

	store, err := projectstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	generator := voice.NewClient(voice.ConfigFromApp(cfg))
	manager := timeline.NewManager(ctx, cfg, store, generator, c.logger(cfg))
	defer manager.Close()

	return fn(&session{ctx: ctx, cfg: cfg, store: store, manager: manager})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
