package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opscart/personalize-monitor/pkg/models"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("RESOURCE_ARNS", "arn:aws:personalize:us-east-1:123456789012:campaign/movies")
	t.Setenv("AWS_REGION", "us-east-1")
	return NewConfig()
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.UtilizationThresholdAlarmLowerBound != 100 {
		t.Errorf("Expected default threshold 100, got %.1f", cfg.UtilizationThresholdAlarmLowerBound)
	}
	if cfg.IdleThresholdHours != 24 {
		t.Errorf("Expected default idle hours 24, got %d", cfg.IdleThresholdHours)
	}
	if cfg.AutoDeleteOrStopIdleResources {
		t.Error("Idle resources must not be deleted by default")
	}
	if !cfg.AutoAdjustMinRate {
		t.Error("Expected min rate adjustment enabled by default")
	}
	if cfg.EvaluationPeriods != 12 || cfg.DatapointsToAlarm != 9 {
		t.Errorf("Expected 9 of 12 alarm evaluation, got %d of %d", cfg.DatapointsToAlarm, cfg.EvaluationPeriods)
	}
	if len(cfg.Regions) != 1 || cfg.Regions[0] != "us-east-1" {
		t.Errorf("Expected regions to default to AWS_REGION, got %v", cfg.Regions)
	}
	if cfg.MetricsSource != SourceCloudWatch {
		t.Errorf("Expected cloudwatch source, got %s", cfg.MetricsSource)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("RESOURCE_ARNS", "all")
	t.Setenv("REGIONS", "us-east-1, eu-west-1")
	t.Setenv("IDLE_THRESHOLD_HOURS", "6")
	t.Setenv("AUTO_DELETE_OR_STOP_IDLE_RESOURCES", "true")
	t.Setenv("PASS_TIMEOUT", "90s")

	cfg := NewConfig()

	if !cfg.DiscoverAll() {
		t.Error("Expected discover-all mode")
	}
	if len(cfg.Regions) != 2 || cfg.Regions[1] != "eu-west-1" {
		t.Errorf("Expected two regions, got %v", cfg.Regions)
	}
	if cfg.IdleThresholdHours != 6 {
		t.Errorf("Expected idle hours 6, got %d", cfg.IdleThresholdHours)
	}
	if cfg.IdleWindow() != 6*time.Hour {
		t.Errorf("Expected idle window 6h, got %v", cfg.IdleWindow())
	}
	if !cfg.AutoDeleteOrStopIdleResources {
		t.Error("Expected idle auto action enabled")
	}
	if cfg.PassTimeout != 90*time.Second {
		t.Errorf("Expected pass timeout 90s, got %v", cfg.PassTimeout)
	}
}

func TestBoolEnvSpellings(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"yes", true},
		{"YES", true},
		{"True", true},
		{"1", true},
		{"no", false},
		{"false", false},
		{"0", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("AUTO_CREATE_IDLE_ALARMS", tt.value)
			t.Setenv("AUTO_DELETE_OR_STOP_IDLE_RESOURCES", tt.value)
			cfg := NewConfig()
			if cfg.AutoCreateIdleAlarms != tt.want {
				t.Errorf("AUTO_CREATE_IDLE_ALARMS=%s: expected %t, got %t", tt.value, tt.want, cfg.AutoCreateIdleAlarms)
			}
			if cfg.AutoDeleteOrStopIdleResources != tt.want {
				t.Errorf("AUTO_DELETE_OR_STOP_IDLE_RESOURCES=%s: expected %t, got %t", tt.value, tt.want, cfg.AutoDeleteOrStopIdleResources)
			}
		})
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name          string
		setupConfig   func(*Config)
		expectError   bool
		errorContains string
	}{
		{
			name:        "valid default config",
			setupConfig: func(c *Config) {},
			expectError: false,
		},
		{
			name:          "threshold too high",
			setupConfig:   func(c *Config) { c.UtilizationThresholdAlarmLowerBound = 1001 },
			expectError:   true,
			errorContains: "between 0 and 1000",
		},
		{
			name:          "idle hours too low",
			setupConfig:   func(c *Config) { c.IdleThresholdHours = 1 },
			expectError:   true,
			errorContains: "between 2 and 48",
		},
		{
			name:          "idle hours too high",
			setupConfig:   func(c *Config) { c.IdleThresholdHours = 49 },
			expectError:   true,
			errorContains: "between 2 and 48",
		},
		{
			name:        "valid edge case - 48 hours",
			setupConfig: func(c *Config) { c.IdleThresholdHours = 48 },
			expectError: false,
		},
		{
			name:        "valid edge case - threshold 0",
			setupConfig: func(c *Config) { c.UtilizationThresholdAlarmLowerBound = 0 },
			expectError: false,
		},
		{
			name:          "no resources",
			setupConfig:   func(c *Config) { c.ResourceARNs = nil },
			expectError:   true,
			errorContains: "RESOURCE_ARNS",
		},
		{
			name:          "bad arn",
			setupConfig:   func(c *Config) { c.ResourceARNs = []string{"campaign/x"} },
			expectError:   true,
			errorContains: "malformed ARN",
		},
		{
			name: "unsupported arn type",
			setupConfig: func(c *Config) {
				c.ResourceARNs = []string{"arn:aws:personalize:us-east-1:1:dataset-group/x"}
			},
			expectError:   true,
			errorContains: "unsupported resource type",
		},
		{
			name:          "datapoints exceed periods",
			setupConfig:   func(c *Config) { c.DatapointsToAlarm = 13 },
			expectError:   true,
			errorContains: "datapoints to alarm",
		},
		{
			name:          "prometheus without url",
			setupConfig:   func(c *Config) { c.MetricsSource = SourcePrometheus },
			expectError:   true,
			errorContains: "PROMETHEUS_URL",
		},
		{
			name:          "storage without url",
			setupConfig:   func(c *Config) { c.StorageEnabled = true; c.DatabaseURL = "" },
			expectError:   true,
			errorContains: "DATABASE_URL",
		},
		{
			name:          "bad endpoint",
			setupConfig:   func(c *Config) { c.NotificationEndpoint = "ops-team" },
			expectError:   true,
			errorContains: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.setupConfig(cfg)

			err := cfg.Validate()

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if tt.expectError && err != nil && tt.errorContains != "" {
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorContains, err.Error())
				}
			}
		})
	}
}

func TestValidationReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.IdleThresholdHours = 0
	cfg.UtilizationThresholdAlarmLowerBound = -1
	cfg.MaxConcurrency = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}

	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %T", err)
	}
	for _, want := range []string{"idle threshold", "utilization threshold", "max concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %v", want, err)
		}
	}
}

func TestInvalidEnvValues(t *testing.T) {
	t.Setenv("IDLE_THRESHOLD_HOURS", "invalid")
	cfg := validConfig(t)

	if cfg.IdleThresholdHours != 24 {
		t.Errorf("Expected fallback to default 24, got %d", cfg.IdleThresholdHours)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "IDLE_THRESHOLD_HOURS") {
		t.Errorf("Expected parse error surfaced by Validate, got %v", err)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	cfg := validConfig(t)

	path := filepath.Join(t.TempDir(), "monitor.yaml")
	content := `
resourceArns: [all]
regions: [us-west-2]
idleThresholdHours: 12
passTimeout: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if !cfg.DiscoverAll() {
		t.Error("Expected discover-all from file")
	}
	if cfg.IdleThresholdHours != 12 {
		t.Errorf("Expected idle hours 12, got %d", cfg.IdleThresholdHours)
	}
	if cfg.PassTimeout != 2*time.Minute {
		t.Errorf("Expected pass timeout 2m, got %v", cfg.PassTimeout)
	}
	// untouched keys keep env/default values
	if cfg.UtilizationThresholdAlarmLowerBound != 100 {
		t.Errorf("Expected threshold to keep default, got %.1f", cfg.UtilizationThresholdAlarmLowerBound)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
