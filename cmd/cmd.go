// Package cmd implements the flowmeta subcommands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"grimm.is/flowmeta/internal/config"
	"grimm.is/flowmeta/internal/logging"
)

// Stdout receives command output. Tests point it at a buffer.
var Stdout io.Writer = os.Stdout

// loadConfig reads and validates configFile. An empty path means the
// built-in defaults.
func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configFile, err)
	}
	return cfg, nil
}

// setupLogging builds the process logger from the logging and syslog
// blocks. The returned closer shuts the syslog connection, if any.
func setupLogging(cfg *config.Config, console io.Writer) (*logging.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Output = console
	logCfg.Level = level
	logCfg.JSON = cfg.Logging.JSON

	var closer io.Closer = nopCloser{}
	if cfg.Syslog.Enabled {
		writer, err := logging.NewSyslogWriter(logging.SyslogConfig{
			Enabled:  true,
			Host:     cfg.Syslog.Host,
			Port:     cfg.Syslog.Port,
			Protocol: cfg.Syslog.Protocol,
			Tag:      cfg.Syslog.Tag,
			Facility: cfg.Syslog.Facility,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize syslog: %w", err)
		}
		logCfg.Output = logging.MultiWriter(console, writer)
		closer = writer
	}

	logger := logging.New(logCfg)
	logging.SetDefault(logger)
	if cfg.Syslog.Enabled {
		logger.Info("syslog enabled", "host", cfg.Syslog.Host, "port", cfg.Syslog.Port)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
