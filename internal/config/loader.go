package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads the configuration from viper and returns a Config struct,
// falling back to DefaultConfig's values for anything left unset.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if v := viper.GetString("catalog.path"); v != "" {
		cfg.Catalog.Path = v
	}

	if v := viper.GetInt("device.baud"); v != 0 {
		cfg.Device.Baud = v
	}
	if v := viper.GetDuration("device.poll_interval"); v != 0 {
		cfg.Device.PollInterval = v
	}
	if v := viper.GetDuration("device.observe_every"); v != 0 {
		cfg.Device.ObserveEvery = v
	}

	if v := viper.GetFloat64("exec.default_timeout"); v != 0 {
		cfg.Exec.DefaultTimeout = v
	}
	if v := viper.GetInt("exec.max_async_actions"); v != 0 {
		cfg.Exec.MaxAsyncActions = v
	}
	cfg.Exec.StudentPluginPath = viper.GetString("exec.student_plugin_path")
	cfg.Exec.TimeoutRules = loadTimeoutRules()

	if v := viper.GetString("rpc.broker_address"); v != "" {
		cfg.RPC.BrokerAddress = v
	}
	if v := viper.GetString("rpc.router_frontend"); v != "" {
		cfg.RPC.RouterFrontend = v
	}
	if v := viper.GetString("rpc.router_backend"); v != "" {
		cfg.RPC.RouterBackend = v
	}
	if v := viper.GetString("rpc.device_address"); v != "" {
		cfg.RPC.DeviceAddress = v
	}
	if v := viper.GetString("rpc.executor_address"); v != "" {
		cfg.RPC.ExecutorAddress = v
	}
	if v := viper.GetString("rpc.challenge_address"); v != "" {
		cfg.RPC.ChallengeAddress = v
	}
	if v := viper.GetDuration("rpc.send_timeout"); v != 0 {
		cfg.RPC.SendTimeout = v
	}
	if v := viper.GetDuration("rpc.call_timeout"); v != 0 {
		cfg.RPC.CallTimeout = v
	}
	if v := viper.GetInt("rpc.concurrency"); v != 0 {
		cfg.RPC.Concurrency = v
	}

	if v := viper.GetString("telemetry.multicast_addr"); v != "" {
		cfg.Telemetry.MulticastAddr = v
	}
	if v := viper.GetDuration("telemetry.update_interval"); v != 0 {
		cfg.Telemetry.UpdateInterval = v
	}

	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}

	return cfg, nil
}

func loadTimeoutRules() []TimeoutPattern {
	raw, ok := viper.Get("exec.timeout_rules").([]interface{})
	if !ok {
		return nil
	}
	rules := make([]TimeoutPattern, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		pattern, _ := m["pattern"].(string)
		timeout := toFloat64(m["timeout"])
		if pattern == "" {
			continue
		}
		rules = append(rules, TimeoutPattern{Pattern: pattern, Timeout: timeout})
	}
	return rules
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Device.Baud <= 0 {
		return fmt.Errorf("device.baud must be positive")
	}
	if c.Exec.MaxAsyncActions <= 0 {
		return fmt.Errorf("exec.max_async_actions must be positive")
	}
	if c.RPC.Concurrency <= 0 {
		return fmt.Errorf("rpc.concurrency must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json or console)", c.Logging.Format)
	}
	return nil
}
