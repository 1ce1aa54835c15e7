package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
listener:
  addr: ":9090"
pipeline_config: /etc/wirecrest/pipeline.yaml
tenants:
  - id: tenant-1
    schedule: "google_maps,facebook:0 2 * * *"
  - id: tenant-2
    schedule: "*:@daily"
state_dir: /var/lib/wirecrest
log_capture: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listener.Addr)
	assert.Equal(t, "/etc/wirecrest/pipeline.yaml", cfg.PipelineConfig)
	require.Len(t, cfg.Tenants, 2)
	assert.Equal(t, TenantSchedule{ID: "tenant-1", Schedule: "google_maps,facebook:0 2 * * *"}, cfg.Tenants[0])
	assert.Equal(t, "/var/lib/wirecrest", cfg.StateDir)
	assert.Equal(t, slog.LevelDebug, cfg.CaptureLevel())

	// defaults
	assert.Equal(t, "*/5 * * * *", cfg.RetryPoll)
	assert.Equal(t, "0 3 * * *", cfg.Cleanup)
	assert.Equal(t, 100, cfg.MaxHistory)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "missing pipeline config", content: "listener:\n  addr: :8080\n", wantErr: "pipeline_config"},
		{name: "unknown field", content: "pipeline_config: p.yaml\nworkflow_config: x\n", wantErr: "workflow_config"},
		{name: "bad retry poll", content: "pipeline_config: p.yaml\nretry_poll: sometimes\n", wantErr: "retry_poll"},
		{name: "bad log capture", content: "pipeline_config: p.yaml\nlog_capture: loud\n", wantErr: "log_capture"},
		{
			name:    "duplicate tenant",
			content: "pipeline_config: p.yaml\ntenants:\n  - {id: a, schedule: 'facebook:@daily'}\n  - {id: a, schedule: 'booking:@daily'}\n",
			wantErr: "duplicate tenant",
		},
		{
			name:    "tenant without schedule",
			content: "pipeline_config: p.yaml\ntenants:\n  - id: a\n",
			wantErr: "schedule is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := ServerConfig{Listener: ListenerConfig{Addr: ":1"}, MaxHistory: 5, RetryPoll: "@hourly"}
	cfg.SetDefaults()

	assert.Equal(t, ":1", cfg.Listener.Addr)
	assert.Equal(t, 5, cfg.MaxHistory)
	assert.Equal(t, "@hourly", cfg.RetryPoll)
	assert.Equal(t, "info", cfg.LogCapture)
}
