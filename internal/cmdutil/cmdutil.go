// Package cmdutil holds the small amount of bootstrap logic shared by the
// cmd/dfms-* binaries: config/logger wiring and the SIGINT/SIGTERM grace
// sequence, matching the teacher's cmd/appserver/main.go shutdown shape.
package cmdutil

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/heliograph/dfms/internal/dropgraph/dlm"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/pkg/config"
	"github.com/heliograph/dfms/pkg/logger"
)

// componentHook stamps a fixed "logger" field onto every entry, mirroring
// pkg/logger.NewDefault's behavior for loggers built from a loaded Config
// instead of the zero-value default.
type componentHook struct {
	name string
}

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, exists := e.Data["logger"]; !exists {
		e.Data["logger"] = h.name
	}
	return nil
}

// LoadConfigAndLogger loads configuration from configPath (or the default
// search path when empty) and builds a Logger tagged with component.
func LoadConfigAndLogger(configPath, component string) (*config.Config, *logger.Logger) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		cfg = config.New()
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	log.AddHook(componentHook{component})
	if err != nil {
		log.WithField("err", err).Warn("falling back to default configuration")
	}
	return cfg, log
}

// ExecConfig adapts the top-level config's execution section to exec.Config.
func ExecConfig(cfg *config.Config) exec.Config {
	return exec.Config{MaxPoolSize: cfg.Execution.MaxPoolSize}
}

// DLMConfig adapts the top-level config's DLM section to dlm.Config.
func DLMConfig(cfg *config.Config) dlm.Config {
	return dlm.Config{
		SweepInterval:   cfg.DLM.SweepInterval,
		DefaultReplicas: cfg.DLM.DefaultReplicas,
		CronSchedule:    cfg.DLM.CronSchedule,
	}
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then runs cleanup.
func WaitForShutdown(log *logger.Logger, cleanup func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")
	cleanup()
}
