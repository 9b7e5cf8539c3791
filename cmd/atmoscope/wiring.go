package main

import (
	"fmt"

	"atmoscope/internal/config"
	"atmoscope/internal/orchestrator"
	"atmoscope/internal/store"
	"atmoscope/internal/tactile"

	"go.uber.org/zap"
)

// newExecutor builds the process executor for the simulator and routes its
// audit events into audit.
func newExecutor(c *config.Config, audit *tactile.AuditLogger) *tactile.DirectExecutor {
	ec := executorConfig(c)
	ec.AuditCallback = audit.Log
	return tactile.NewDirectExecutorWithConfig(ec)
}

// executorConfig maps the simulator section onto executor limits. The cap
// never sits below the configured timeout.
func executorConfig(c *config.Config) tactile.ExecutorConfig {
	ec := tactile.DefaultExecutorConfig()
	ec.DefaultWorkingDir = c.Simulator.WorkingDirectory
	ec.DefaultTimeout = c.GetSimulatorTimeout()
	if ec.MaxTimeout < ec.DefaultTimeout {
		ec.MaxTimeout = ec.DefaultTimeout
	}
	ec.AllowedEnvironment = c.Simulator.AllowedEnvVars
	return ec
}

// settingsFromConfig maps the simulator section onto orchestrator settings.
func settingsFromConfig(c *config.Config) orchestrator.Settings {
	return orchestrator.Settings{
		Binary:             c.Simulator.Binary,
		WorkingDirectory:   c.Simulator.WorkingDirectory,
		ExtraArgs:          c.Simulator.ExtraArgs,
		Timeout:            c.GetSimulatorTimeout(),
		MaxTranscriptBytes: c.Simulator.MaxTranscriptBytes,
	}
}

// defaultsFromConfig returns the compute defaults.
func defaultsFromConfig(c *config.Config) orchestrator.ComputeRequest {
	d := c.Defaults
	return orchestrator.ComputeRequest{
		Gas1:     d.Gas1,
		Gas2:     d.Gas2,
		Gas3:     d.Gas3,
		Mixt1:    d.Mixt1,
		Mixt2:    d.Mixt2,
		Thirt1:   d.Thirt1,
		Thirt2:   d.Thirt2,
		Ticks:    d.Ticks,
		DoRetest: d.DoRetest,
	}
}

// openStore opens the run history named by the config.
func openStore(c *config.Config) (*store.RunStore, error) {
	s, err := store.Open(c.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	logger.Debug("Run store opened", zap.String("path", c.Store.DatabasePath))
	return s, nil
}
