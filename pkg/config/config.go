package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/opscart/personalize-monitor/pkg/arn"
	"github.com/opscart/personalize-monitor/pkg/models"
)

// DiscoverAllKeyword in ResourceARNs selects discovery of every campaign and recommender
const DiscoverAllKeyword = "all"

// Metric sources
const (
	SourceCloudWatch = "cloudwatch"
	SourcePrometheus = "prometheus"
)

// Config holds application configuration
type Config struct {
	// Resources
	ResourceARNs []string `yaml:"resourceArns"`
	Regions      []string `yaml:"regions"`

	// Alarms
	AutoCreateUtilizationAlarms         bool    `yaml:"autoCreateUtilizationAlarms"`
	UtilizationThresholdAlarmLowerBound float64 `yaml:"utilizationThresholdAlarmLowerBound"`
	AutoCreateIdleAlarms                bool    `yaml:"autoCreateIdleAlarms"`
	EvaluationPeriods                   int     `yaml:"evaluationPeriods"`
	DatapointsToAlarm                   int     `yaml:"datapointsToAlarm"`
	NotificationEndpoint                string  `yaml:"notificationEndpoint"`

	// Policy
	IdleThresholdHours            int  `yaml:"idleThresholdHours"`
	AutoDeleteOrStopIdleResources bool `yaml:"autoDeleteOrStopIdleResources"`
	AutoAdjustMinRate             bool `yaml:"autoAdjustMinRate"`

	// Execution
	MaxConcurrency        int           `yaml:"maxConcurrency"`
	PassTimeout           time.Duration `yaml:"passTimeout"`
	CallTimeout           time.Duration `yaml:"callTimeout"`
	MaxAttempts           int           `yaml:"maxAttempts"`
	DescribeRatePerSecond float64       `yaml:"describeRatePerSecond"`
	ResourceCacheTTL      time.Duration `yaml:"resourceCacheTTL"`
	Interval              time.Duration `yaml:"interval"`

	// Metrics
	MetricsSource             string `yaml:"metricsSource"`
	PrometheusURL             string `yaml:"prometheusUrl"`
	PublishUtilizationMetrics bool   `yaml:"publishUtilizationMetrics"`
	PushgatewayURL            string `yaml:"pushgatewayUrl"`

	// Events
	EventBusName string `yaml:"eventBusName"`

	// Storage
	StorageEnabled bool   `yaml:"storageEnabled"`
	DatabaseURL    string `yaml:"databaseUrl"`

	// Serve mode
	ListenAddr string `yaml:"listenAddr"`

	// Output
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	SentryDSN string `yaml:"sentryDsn"`

	parseErrors []error
}

// NewConfig creates a new configuration from the environment with defaults
func NewConfig() *Config {
	c := &Config{}

	c.ResourceARNs = getEnvList("RESOURCE_ARNS", nil)
	c.Regions = getEnvList("REGIONS", getEnvList("AWS_REGION", nil))

	c.AutoCreateUtilizationAlarms = getEnvBool("AUTO_CREATE_UTILIZATION_ALARMS", true)
	c.UtilizationThresholdAlarmLowerBound = c.getEnvFloat("UTILIZATION_THRESHOLD_ALARM_LOWER_BOUND", 100)
	c.AutoCreateIdleAlarms = getEnvBool("AUTO_CREATE_IDLE_ALARMS", true)
	c.EvaluationPeriods = c.getEnvInt("EVALUATION_PERIODS", 12)
	c.DatapointsToAlarm = c.getEnvInt("DATAPOINTS_TO_ALARM", 9)
	c.NotificationEndpoint = getEnv("NOTIFICATION_ENDPOINT", "")

	c.IdleThresholdHours = c.getEnvInt("IDLE_THRESHOLD_HOURS", 24)
	c.AutoDeleteOrStopIdleResources = getEnvBool("AUTO_DELETE_OR_STOP_IDLE_RESOURCES", false)
	c.AutoAdjustMinRate = getEnvBool("AUTO_ADJUST_MIN_RATE", true)

	c.MaxConcurrency = c.getEnvInt("MAX_CONCURRENCY", 8)
	c.PassTimeout = c.getEnvDuration("PASS_TIMEOUT", 4*time.Minute)
	c.CallTimeout = c.getEnvDuration("CALL_TIMEOUT", 20*time.Second)
	c.MaxAttempts = c.getEnvInt("MAX_ATTEMPTS", 4)
	c.DescribeRatePerSecond = c.getEnvFloat("DESCRIBE_RATE_PER_SECOND", 5)
	c.ResourceCacheTTL = c.getEnvDuration("RESOURCE_CACHE_TTL", 22*time.Minute)
	c.Interval = c.getEnvDuration("INTERVAL", 5*time.Minute)

	c.MetricsSource = getEnv("METRICS_SOURCE", SourceCloudWatch)
	c.PrometheusURL = getEnv("PROMETHEUS_URL", "")
	c.PublishUtilizationMetrics = getEnvBool("PUBLISH_UTILIZATION_METRICS", true)
	c.PushgatewayURL = getEnv("PUSHGATEWAY_URL", "")

	c.EventBusName = getEnv("EVENT_BUS_NAME", "default")

	c.StorageEnabled = getEnvBool("STORAGE_ENABLED", false)
	c.DatabaseURL = getEnv("DATABASE_URL", "host=localhost port=5432 user=monitor password=devpassword dbname=personalizemonitor sslmode=disable")

	c.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")
	c.SentryDSN = getEnv("SENTRY_DSN", "")

	return c
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// DiscoverAll reports whether every resource in the configured regions is monitored
func (c *Config) DiscoverAll() bool {
	return len(c.ResourceARNs) == 1 && strings.EqualFold(strings.TrimSpace(c.ResourceARNs[0]), DiscoverAllKeyword)
}

// IdleWindow is the trailing window checked for zero requests
func (c *Config) IdleWindow() time.Duration {
	return time.Duration(c.IdleThresholdHours) * time.Hour
}

// Validate checks every option and reports all problems at once
func (c *Config) Validate() error {
	var result *multierror.Error
	result = multierror.Append(result, c.parseErrors...)

	if len(c.ResourceARNs) == 0 {
		result = multierror.Append(result, fmt.Errorf("RESOURCE_ARNS must list resource ARNs or be %q", DiscoverAllKeyword))
	} else if !c.DiscoverAll() {
		for _, s := range c.ResourceARNs {
			a, err := arn.Parse(s)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if _, err := a.Kind(); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", s, err))
			}
		}
	}
	if len(c.Regions) == 0 {
		result = multierror.Append(result, fmt.Errorf("REGIONS or AWS_REGION must be set"))
	}

	if c.UtilizationThresholdAlarmLowerBound < 0 || c.UtilizationThresholdAlarmLowerBound > 1000 {
		result = multierror.Append(result, fmt.Errorf("utilization threshold must be between 0 and 1000, got %.1f", c.UtilizationThresholdAlarmLowerBound))
	}
	if c.IdleThresholdHours < 2 || c.IdleThresholdHours > 48 {
		result = multierror.Append(result, fmt.Errorf("idle threshold hours must be between 2 and 48, got %d", c.IdleThresholdHours))
	}
	if c.EvaluationPeriods < 1 {
		result = multierror.Append(result, fmt.Errorf("evaluation periods must be at least 1"))
	}
	if c.DatapointsToAlarm < 1 || c.DatapointsToAlarm > c.EvaluationPeriods {
		result = multierror.Append(result, fmt.Errorf("datapoints to alarm must be between 1 and %d, got %d", c.EvaluationPeriods, c.DatapointsToAlarm))
	}
	if c.NotificationEndpoint != "" && !strings.Contains(c.NotificationEndpoint, "@") {
		result = multierror.Append(result, fmt.Errorf("notification endpoint must be an email address"))
	}

	if c.MaxConcurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("max concurrency must be at least 1"))
	}
	if c.PassTimeout <= 0 || c.CallTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("pass and call timeouts must be positive"))
	}
	if c.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max attempts must be at least 1"))
	}
	if c.DescribeRatePerSecond <= 0 {
		result = multierror.Append(result, fmt.Errorf("describe rate must be positive"))
	}

	switch c.MetricsSource {
	case SourceCloudWatch:
	case SourcePrometheus:
		if c.PrometheusURL == "" {
			result = multierror.Append(result, fmt.Errorf("PROMETHEUS_URL must be set when metrics source is prometheus"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown metrics source %q", c.MetricsSource))
	}

	if c.StorageEnabled && c.DatabaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("DATABASE_URL must be set when storage is enabled"))
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		result = multierror.Append(result, fmt.Errorf("log format must be json or console"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return &models.ConfigError{Err: err}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "yes", "1":
			return true
		}
		return false
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (c *Config) getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
