// Monitoring configuration - logging settings.
package config

// MonitoringConfig contains logging settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
}

func (m *MonitoringConfig) applyDefaults() {
	if m.LogLevel == "" {
		m.LogLevel = "info"
	}
	if m.LogFormat == "" {
		m.LogFormat = "json"
	}
	if m.LogOutput == "" {
		m.LogOutput = "stdout"
	}
}
