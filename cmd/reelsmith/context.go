package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelsmith/internal/artifact"
	"reelsmith/internal/config"
	"reelsmith/internal/imagery"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/render"
	"reelsmith/internal/runs"
	"reelsmith/internal/script"
	"reelsmith/internal/voice"
	"reelsmith/internal/workflow"
)

// stageFactory builds the adapters a run calls. Tests swap in fakes.
type stageFactory func(cfg *config.Config, logger *slog.Logger) (workflow.Stages, error)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	stages   stageFactory
	notifier notifications.Service
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		stages:     liveStages,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) openArtifacts() (*artifact.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := artifact.Open(cfg.Paths.CacheDir, artifact.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open artifact cache: %w", err)
	}
	return store, nil
}

func (c *commandContext) withLedger(fn func(*runs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ledger, err := runs.Open(cfg)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer ledger.Close()
	return fn(ledger)
}

// orchestrator wires the live pipeline. The caller owns the ledger.
func (c *commandContext) orchestrator(ledger *runs.Store) (*workflow.Orchestrator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := c.openArtifacts()
	if err != nil {
		return nil, err
	}
	stages, err := c.stages(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []workflow.Option{
		workflow.WithLedger(ledger),
		workflow.WithLogger(logger),
	}
	if c.notifier != nil {
		opts = append(opts, workflow.WithNotifier(c.notifier))
	}
	return workflow.New(cfg, store, stages, opts...)
}

func liveStages(cfg *config.Config, logger *slog.Logger) (workflow.Stages, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return workflow.Stages{}, err
	}
	writer, err := script.NewFromConfig(cfg, logger)
	if err != nil {
		return workflow.Stages{}, err
	}
	return workflow.Stages{
		Script:   writer,
		Voice:    voice.NewFromConfig(cfg, logger),
		Images:   imagery.NewFromConfig(cfg, logger),
		Renderer: render.NewAssembler(cfg, logger),
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
