package cmdutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heliograph/dfms/pkg/config"
)

func TestExecConfigCarriesPoolSize(t *testing.T) {
	cfg := config.New()
	cfg.Execution.MaxPoolSize = 4
	assert.Equal(t, 4, ExecConfig(cfg).MaxPoolSize)
}

func TestDLMConfigCarriesSweepAndReplicas(t *testing.T) {
	cfg := config.New()
	cfg.DLM.DefaultReplicas = 3
	cfg.DLM.CronSchedule = "*/10 * * * *"

	got := DLMConfig(cfg)
	assert.Equal(t, cfg.DLM.SweepInterval, got.SweepInterval)
	assert.Equal(t, 3, got.DefaultReplicas)
	assert.Equal(t, "*/10 * * * *", got.CronSchedule)
}

func TestLoadConfigAndLoggerFallsBackOnUnreadableFile(t *testing.T) {
	cfg, log := LoadConfigAndLogger("/nonexistent/path/to/config.yaml", "test-component")
	assert.NotNil(t, cfg)
	assert.NotNil(t, log)
}
