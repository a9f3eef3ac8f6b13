// Package config provides configuration types and loading for the
// runtime daemon.
package config

import "time"

// Config is the complete runtime configuration, shared by every role
// process (broker, device, executor, challenge) since they all load it
// identically at startup.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Device    DeviceConfig    `mapstructure:"device"`
	Exec      ExecConfig      `mapstructure:"exec"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig locates the device-type catalog loaded at startup.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// DeviceConfig controls the serial device manager.
type DeviceConfig struct {
	Baud         int           `mapstructure:"baud"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ObserveEvery time.Duration `mapstructure:"observe_every"`
}

// TimeoutPattern binds a first-match-wins regular expression over an
// action name to the timeout (seconds) it gets in SyncExecutor.
type TimeoutPattern struct {
	Pattern string  `mapstructure:"pattern"`
	Timeout float64 `mapstructure:"timeout"`
}

// ExecConfig controls the execution dispatcher.
type ExecConfig struct {
	DefaultTimeout float64          `mapstructure:"default_timeout"`
	TimeoutRules   []TimeoutPattern `mapstructure:"timeout_rules"`
	MaxAsyncActions int             `mapstructure:"max_async_actions"`
	StudentPluginPath string        `mapstructure:"student_plugin_path"`
}

// RPCConfig controls the remote-call fabric's endpoint addresses and
// timeouts. BrokerAddress is where broker-service itself listens;
// RouterFrontend/RouterBackend are the broker's two bridging ROUTER
// sockets that other processes dial to reach one another, separate from
// broker-service's own address.
type RPCConfig struct {
	BrokerAddress    string        `mapstructure:"broker_address"`
	RouterFrontend   string        `mapstructure:"router_frontend"`
	RouterBackend    string        `mapstructure:"router_backend"`
	DeviceAddress    string        `mapstructure:"device_address"`
	ExecutorAddress  string        `mapstructure:"executor_address"`
	ChallengeAddress string        `mapstructure:"challenge_address"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	Concurrency      int           `mapstructure:"concurrency"`
}

// TelemetryConfig controls the UDP multicast telemetry broadcast.
type TelemetryConfig struct {
	MulticastAddr  string        `mapstructure:"multicast_addr"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// DefaultConfig returns a configuration with sensible defaults. It sets no
// timeout rules, so every student entry point, *_main included, runs under
// exec.DefaultTimeout (1s). Exec.DefaultTimeout and RPC.SendTimeout are
// carried in the configuration but not applied by the runtime.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{Path: "devices.yaml"},
		Device: DeviceConfig{
			Baud:         115200,
			PollInterval: 20 * time.Millisecond,
			ObserveEvery: time.Second,
		},
		Exec: ExecConfig{
			DefaultTimeout:    1.0,
			MaxAsyncActions:   16,
			StudentPluginPath: "",
		},
		RPC: RPCConfig{
			BrokerAddress:    "ipc:///tmp/fieldcore-broker.sock",
			RouterFrontend:   "ipc:///tmp/fieldcore-router-frontend.sock",
			RouterBackend:    "ipc:///tmp/fieldcore-router-backend.sock",
			DeviceAddress:    "ipc:///tmp/fieldcore-device.sock",
			ExecutorAddress:  "ipc:///tmp/fieldcore-executor.sock",
			ChallengeAddress: "ipc:///tmp/fieldcore-challenge.sock",
			SendTimeout:      time.Second,
			CallTimeout:      5 * time.Second,
			Concurrency:      4,
		},
		Telemetry: TelemetryConfig{
			MulticastAddr:  "224.1.1.1:6003",
			UpdateInterval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
