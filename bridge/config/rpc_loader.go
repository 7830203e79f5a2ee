package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix namespaces the daemon's environment variables, BRIDGE_PORT etc.
const envPrefix = "BRIDGE"

// LoadRPCBridgeConfig loads the daemon config from the given toml file, or
// from BRIDGE_* environment variables when configPath is nil.
func LoadRPCBridgeConfig(configPath *string) (*RPCBridgeConfig, error) {
	v := viper.New()
	v.SetDefault("db_backend", "pebble")
	v.SetDefault("bridge_prefix", "oraib")
	v.SetDefault("service_name", "spectra-ics20-bridge")
	v.SetDefault("allowed_origins", []string{"*"})

	source := "environment"
	if configPath == nil {
		readEnv(v)
	} else {
		source = *configPath
		if err := readFile(v, *configPath); err != nil {
			return nil, err
		}
	}

	var config RPCBridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config from %s: %w", source, err)
	}
	if err := config.Verify(); err != nil {
		return nil, fmt.Errorf("invalid config from %s: %w", source, err)
	}
	return &config, nil
}

func readEnv(v *viper.Viper) {
	// a missing .env is fine, the environment can come from docker or systemd
	_ = godotenv.Load()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
}

func readFile(v *viper.Viper, path string) error {
	if filepath.Ext(path) != ".toml" {
		return fmt.Errorf("config file %s is not a .toml file", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

var configKeys = []string{
	"port", "host", "allowed_origins",
	"rate_per_minute", "max_concurrent_requests",
	"service_name", "service_version", "environment",
	"enable_tracing", "use_otlp_traces", "otlp_traces_url",
	"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
	"enable_logs", "use_otlp_logs", "otlp_logs_url",
	"insecure_otlp", "development_mode",
	"db_backend", "db_path", "contract_address", "bridge_prefix", "genesis_file", "sqs_urls",
}

// Verify reports every problem in the config at once.
func (c *RPCBridgeConfig) Verify() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.ContractAddress == "" {
		errs = append(errs, errors.New("contract_address is required"))
	}

	switch c.DBBackend {
	case "memdb":
	case "pebble", "leveldb":
		if c.DBPath == "" {
			errs = append(errs, fmt.Errorf("db_path is required for the %s backend", c.DBBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db_backend %q", c.DBBackend))
	}

	for i, u := range c.SqsURLs {
		if u == "" {
			errs = append(errs, fmt.Errorf("sqs_urls[%d] is empty", i))
		}
	}
	if c.UseOTLPTraces && c.OTLPTracesURL == "" {
		errs = append(errs, errors.New("use_otlp_traces needs otlp_traces_url"))
	}
	if c.UseOTLPMetrics && c.OTLPMetricsURL == "" {
		errs = append(errs, errors.New("use_otlp_metrics needs otlp_metrics_url"))
	}
	if c.UseOTLPLogs && c.OTLPLogsURL == "" {
		errs = append(errs, errors.New("use_otlp_logs needs otlp_logs_url"))
	}
	return errors.Join(errs...)
}
