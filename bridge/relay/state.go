package relay

import (
	"context"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/ledger"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultFeeDenom is the reference unit relayer fees are quoted in.
const DefaultFeeDenom = "orai"

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "relay").Logger()
}

// SetLogger replaces the package logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "relay").Logger()
}

// Config is the process wide bridge configuration.
type Config struct {
	// DefaultTimeout is in seconds.
	DefaultTimeout         uint64  `json:"default_timeout"`
	DefaultGasLimit        *uint64 `json:"default_gas_limit,omitempty"`
	FeeDenom               string  `json:"fee_denom"`
	SwapRouterContract     string  `json:"swap_router_contract"`
	TokenFeeReceiver       string  `json:"token_fee_receiver"`
	RelayerFeeReceiver     string  `json:"relayer_fee_receiver"`
	ConverterContract      string  `json:"converter_contract"`
	OsorEntrypointContract string  `json:"osor_entrypoint_contract"`
}

// AllowInfo is an allow-list entry for a token contract.
type AllowInfo struct {
	GasLimit *uint64 `json:"gas_limit,omitempty"`
}

// ChannelInfo is recorded once when a channel connects.
type ChannelInfo struct {
	ID                   string             `json:"id"`
	CounterpartyEndpoint models.IbcEndpoint `json:"counterparty_endpoint"`
	ConnectionID         string             `json:"connection_id"`
}

// ReplyArgs is the scratch record a failure handler reads to know what to undo.
type ReplyArgs struct {
	Channel       string          `json:"channel"`
	Denom         string          `json:"denom"`
	Amount        decimal.Decimal `json:"amount"`
	LocalReceiver string          `json:"local_receiver"`
}

// AssetConverter quotes what the converter contract returns for an asset.
type AssetConverter interface {
	ConvertQuote(ctx context.Context, from amount.Asset) (amount.Asset, error)
}

// Contract is the bridge state machine. It holds no per call state; every
// entrypoint reads and writes through the store handed to it.
type Contract struct {
	fees      *fees.Engine
	mapper    *mapping.Mapper
	ledger    *ledger.Ledger
	converter AssetConverter

	config              store.Item[Config]
	admin               store.Item[string]
	allowList           store.Map[AllowInfo]
	channels            store.Map[ChannelInfo]
	replyArgs           store.Item[ReplyArgs]
	singleStepReplyArgs store.Item[ReplyArgs]
}

// New wires a contract. converter may be nil, in which case conversions pass
// the asset through unchanged.
func New(feeEngine *fees.Engine, converter AssetConverter) *Contract {
	if feeEngine == nil {
		feeEngine = fees.NewEngine(nil, "")
	}
	return &Contract{
		fees:                feeEngine,
		mapper:              mapping.New(),
		ledger:              ledger.New(),
		converter:           converter,
		config:              store.NewItem[Config]("config"),
		admin:               store.NewItem[string]("admin"),
		allowList:           store.NewMap[AllowInfo]("allow_list", 1),
		channels:            store.NewMap[ChannelInfo]("channel_info", 1),
		replyArgs:           store.NewItem[ReplyArgs]("reply_args"),
		singleStepReplyArgs: store.NewItem[ReplyArgs]("single_step_reply_args"),
	}
}

func (c *Contract) Fees() *fees.Engine      { return c.fees }
func (c *Contract) Mapper() *mapping.Mapper { return c.mapper }
func (c *Contract) Ledger() *ledger.Ledger  { return c.ledger }

func (c *Contract) loadConfig(kv store.KV) (Config, error) {
	return c.config.MustExist(kv)
}

func (c *Contract) assertAdmin(kv store.KV, sender string) error {
	admin, ok, err := c.admin.Load(kv)
	if err != nil {
		return err
	}
	if !ok || admin != sender {
		return ErrUnauthorized
	}
	return nil
}

// gasLimitFor returns the gas limit attached to transfers of an asset. Tokens
// must be allowed unless a default gas limit is configured.
func (c *Contract) gasLimitFor(kv store.KV, info amount.AssetInfo) (*uint64, error) {
	if info.IsNative() {
		return nil, nil
	}
	allowed, ok, err := c.allowList.Load(kv, info.Token.ContractAddr)
	if err != nil {
		return nil, err
	}
	if ok {
		return allowed.GasLimit, nil
	}
	cfg, err := c.loadConfig(kv)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultGasLimit != nil {
		return cfg.DefaultGasLimit, nil
	}
	return nil, ErrNotOnAllowList
}
