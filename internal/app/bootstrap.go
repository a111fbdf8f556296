package app

import (
	"fmt"
	"time"

	"timerbox/internal/config"
	"timerbox/internal/task/engine"
	logx "timerbox/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg.Engine.Workers < 0 {
		return engine.Config{}, fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Engine.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("engine.queue_size must be >= 0")
	}
	if cfg.Engine.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("engine.history_size must be >= 0")
	}
	timeout, err := cfg.EngineTimeout()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		HistorySize:    cfg.Engine.HistorySize,
		DefaultTimeout: timeout,
	}, nil
}

func watchdogGrace(cfg *config.Config) (time.Duration, error) {
	return cfg.WatchdogGraceDuration()
}

// notifySystemd sends state to the service manager. Outside systemd
// (NOTIFY_SOCKET unset) it is a no-op.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
