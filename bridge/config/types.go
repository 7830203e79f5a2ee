package config

import (
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/bank"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/shopspring/decimal"
)

type RPCBridgeConfig struct {
	// rpc configs
	Port int    `toml:"port" mapstructure:"port"`
	Host string `toml:"host" mapstructure:"host"`

	// CORS configs
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `toml:"rate_per_minute" mapstructure:"rate_per_minute"`
	MaxConcurrentRequests int `toml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`

	// OpenTelemetry configs
	ServiceName    string `toml:"service_name" mapstructure:"service_name"`
	ServiceVersion string `toml:"service_version" mapstructure:"service_version"`
	Environment    string `toml:"environment" mapstructure:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool   `toml:"enable_tracing" mapstructure:"enable_tracing"`
	UseOTLPTraces  bool   `toml:"use_otlp_traces" mapstructure:"use_otlp_traces"`
	OTLPTracesURL  string `toml:"otlp_traces_url" mapstructure:"otlp_traces_url"`
	EnableMetrics  bool   `toml:"enable_metrics" mapstructure:"enable_metrics"`
	UsePrometheus  bool   `toml:"use_prometheus" mapstructure:"use_prometheus"`
	UseOTLPMetrics bool   `toml:"use_otlp_metrics" mapstructure:"use_otlp_metrics"`
	OTLPMetricsURL string `toml:"otlp_metrics_url" mapstructure:"otlp_metrics_url"`
	EnableLogs     bool   `toml:"enable_logs" mapstructure:"enable_logs"`
	UseOTLPLogs    bool   `toml:"use_otlp_logs" mapstructure:"use_otlp_logs"`
	OTLPLogsURL    string `toml:"otlp_logs_url" mapstructure:"otlp_logs_url"`
	InsecureOTLP   bool   `toml:"insecure_otlp" mapstructure:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `toml:"development_mode" mapstructure:"development_mode"`

	// storage: pebble (default), leveldb or memdb
	DBBackend string `toml:"db_backend" mapstructure:"db_backend"`
	DBPath    string `toml:"db_path" mapstructure:"db_path"`

	// bridge contract
	ContractAddress string `toml:"contract_address" mapstructure:"contract_address"`
	// BridgePrefix is the bech32 prefix of the relay chain senders
	BridgePrefix string `toml:"bridge_prefix" mapstructure:"bridge_prefix"`
	// GenesisFile is a local path or an http(s) URL
	GenesisFile string `toml:"genesis_file" mapstructure:"genesis_file"`

	// router used for relayer fee conversion and token conversion quotes
	SqsURLs []string `toml:"sqs_urls" mapstructure:"sqs_urls"`
}

// GenesisConfig is the initial state of a bridge.
type GenesisConfig struct {
	Instantiate relay.InitMsg         `toml:"instantiate" json:"instantiate"`
	Tokens      []bank.TokenInfo      `toml:"tokens" json:"tokens"`
	Balances    []GenesisBalance      `toml:"balances" json:"balances"`
	Channels    []GenesisChannel      `toml:"channels" json:"channels"`
	Mappings    []relay.UpdatePairMsg `toml:"mappings" json:"mappings"`
	TokenFees   []fees.TokenFee       `toml:"token_fees" json:"token_fees"`
	RelayerFees []fees.RelayerFee     `toml:"relayer_fees" json:"relayer_fees"`
}

type GenesisBalance struct {
	Address string          `toml:"address" json:"address"`
	Denom   string          `toml:"denom" json:"denom"`
	Amount  decimal.Decimal `toml:"amount" json:"amount"`
}

// GenesisChannel is a channel whose handshake is replayed at genesis.
type GenesisChannel struct {
	ChannelID    string             `toml:"channel_id" json:"channel_id"`
	Counterparty models.IbcEndpoint `toml:"counterparty" json:"counterparty"`
	ConnectionID string             `toml:"connection_id" json:"connection_id"`
}
