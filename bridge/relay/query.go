package relay

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/ledger"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

// QueryMsg selects one read. Exactly one field is set.
type QueryMsg struct {
	Port                      *struct{}         `json:"port,omitempty"`
	ListChannels              *struct{}         `json:"list_channels,omitempty"`
	Channel                   *ChannelQuery     `json:"channel,omitempty"`
	ChannelWithKey            *ChannelKeyQuery  `json:"channel_with_key,omitempty"`
	Config                    *struct{}         `json:"config,omitempty"`
	Admin                     *struct{}         `json:"admin,omitempty"`
	Allowed                   *AllowedQuery     `json:"allowed,omitempty"`
	ListAllowed               *PageQuery        `json:"list_allowed,omitempty"`
	PairMapping               *PairQuery        `json:"pair_mapping,omitempty"`
	PairMappings              *PageQuery        `json:"pair_mappings,omitempty"`
	PairMappingsFromAssetInfo *amount.AssetInfo `json:"pair_mappings_from_asset_info,omitempty"`
	GetTransferTokenFee       *TokenFeeQuery    `json:"get_transfer_token_fee,omitempty"`
}

type ChannelQuery struct {
	ID string `json:"id"`
}

type ChannelKeyQuery struct {
	ChannelID string `json:"channel_id"`
	Denom     string `json:"denom"`
}

type AllowedQuery struct {
	Contract string `json:"contract"`
}

type PairQuery struct {
	Key string `json:"key"`
}

type TokenFeeQuery struct {
	RemoteTokenDenom string `json:"remote_token_denom"`
}

// PageQuery carries the pagination parameters of list queries.
type PageQuery struct {
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
	Order      *uint8  `json:"order,omitempty"`
}

func (p *PageQuery) page() *store.Page {
	if p == nil {
		return store.NewPage(nil, nil, nil)
	}
	return store.NewPage(p.StartAfter, p.Limit, p.Order)
}

type PortResponse struct {
	PortID string `json:"port_id"`
}

type ListChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

type ChannelResponse struct {
	Info     ChannelInfo      `json:"info"`
	Balances []ledger.Balance `json:"balances"`
}

type ChannelWithKeyResponse struct {
	Info    ChannelInfo         `json:"info"`
	Balance ledger.ChannelState `json:"balance"`
}

type ConfigResponse struct {
	Config
	TokenFees   []fees.TokenFee   `json:"token_fees"`
	RelayerFees []fees.RelayerFee `json:"relayer_fees"`
}

type AdminResponse struct {
	Admin string `json:"admin,omitempty"`
}

type AllowedResponse struct {
	IsAllowed bool    `json:"is_allowed"`
	GasLimit  *uint64 `json:"gas_limit,omitempty"`
}

type AllowedEntry struct {
	Contract string  `json:"contract"`
	GasLimit *uint64 `json:"gas_limit,omitempty"`
}

type ListAllowedResponse struct {
	Allow []AllowedEntry `json:"allow"`
}

type PairMappingsResponse struct {
	Pairs []mapping.Pair `json:"pairs"`
}

// Query answers a read. Reads never modify state.
func (c *Contract) Query(_ context.Context, kv store.KV, env models.Env, msg QueryMsg) (any, error) {
	switch {
	case msg.Port != nil:
		return c.Port(env), nil
	case msg.ListChannels != nil:
		return c.ListChannels(kv)
	case msg.Channel != nil:
		return c.Channel(kv, msg.Channel.ID)
	case msg.ChannelWithKey != nil:
		return c.ChannelWithKey(kv, msg.ChannelWithKey.ChannelID, msg.ChannelWithKey.Denom)
	case msg.Config != nil:
		return c.Config(kv)
	case msg.Admin != nil:
		return c.Admin(kv)
	case msg.Allowed != nil:
		return c.Allowed(kv, msg.Allowed.Contract)
	case msg.ListAllowed != nil:
		return c.ListAllowed(kv, msg.ListAllowed.page())
	case msg.PairMapping != nil:
		return c.PairMapping(kv, msg.PairMapping.Key)
	case msg.PairMappings != nil:
		return c.PairMappings(kv, msg.PairMappings.page())
	case msg.PairMappingsFromAssetInfo != nil:
		return c.PairMappingsFromAssetInfo(kv, *msg.PairMappingsFromAssetInfo)
	case msg.GetTransferTokenFee != nil:
		return c.GetTransferTokenFee(kv, msg.GetTransferTokenFee.RemoteTokenDenom)
	default:
		return nil, ErrInvalidMessage
	}
}

func (c *Contract) Port(env models.Env) PortResponse {
	return PortResponse{PortID: models.PortID(env.Contract)}
}

func (c *Contract) ListChannels(kv store.KV) (ListChannelsResponse, error) {
	entries, err := c.channels.Range(kv, nil, nil)
	if err != nil {
		return ListChannelsResponse{}, err
	}
	out := ListChannelsResponse{Channels: make([]ChannelInfo, 0, len(entries))}
	for _, e := range entries {
		out.Channels = append(out.Channels, e.Value)
	}
	return out, nil
}

func (c *Contract) channelInfo(kv store.KV, id string) (ChannelInfo, error) {
	info, ok, err := c.channels.Load(kv, id)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, fmt.Errorf("%w: %s", ErrNoSuchChannel, id)
	}
	return info, nil
}

// Channel returns the channel together with every balance kept on it.
func (c *Contract) Channel(kv store.KV, id string) (ChannelResponse, error) {
	info, err := c.channelInfo(kv, id)
	if err != nil {
		return ChannelResponse{}, err
	}
	balances, err := c.ledger.ListChannel(kv, id)
	if err != nil {
		return ChannelResponse{}, err
	}
	return ChannelResponse{Info: info, Balances: balances}, nil
}

// ChannelWithKey returns one balance. A denom never seen yields zeroes.
func (c *Contract) ChannelWithKey(kv store.KV, channelID, denom string) (ChannelWithKeyResponse, error) {
	info, err := c.channelInfo(kv, channelID)
	if err != nil {
		return ChannelWithKeyResponse{}, err
	}
	state, _, err := c.ledger.Get(kv, channelID, denom)
	if err != nil {
		return ChannelWithKeyResponse{}, err
	}
	return ChannelWithKeyResponse{Info: info, Balance: state}, nil
}

func (c *Contract) Config(kv store.KV) (ConfigResponse, error) {
	cfg, err := c.loadConfig(kv)
	if err != nil {
		return ConfigResponse{}, err
	}
	tokenFees, err := c.fees.ListTokenFees(kv)
	if err != nil {
		return ConfigResponse{}, err
	}
	relayerFees, err := c.fees.ListRelayerFees(kv)
	if err != nil {
		return ConfigResponse{}, err
	}
	return ConfigResponse{Config: cfg, TokenFees: tokenFees, RelayerFees: relayerFees}, nil
}

func (c *Contract) Admin(kv store.KV) (AdminResponse, error) {
	admin, _, err := c.admin.Load(kv)
	return AdminResponse{Admin: admin}, err
}

func (c *Contract) Allowed(kv store.KV, contract string) (AllowedResponse, error) {
	info, ok, err := c.allowList.Load(kv, contract)
	if err != nil || !ok {
		return AllowedResponse{}, err
	}
	return AllowedResponse{IsAllowed: true, GasLimit: info.GasLimit}, nil
}

func (c *Contract) ListAllowed(kv store.KV, page *store.Page) (ListAllowedResponse, error) {
	entries, err := c.allowList.Range(kv, nil, page)
	if err != nil {
		return ListAllowedResponse{}, err
	}
	out := ListAllowedResponse{Allow: make([]AllowedEntry, 0, len(entries))}
	for _, e := range entries {
		out.Allow = append(out.Allow, AllowedEntry{Contract: e.Key[0], GasLimit: e.Value.GasLimit})
	}
	return out, nil
}

func (c *Contract) PairMapping(kv store.KV, key string) (mapping.Pair, error) {
	md, err := c.mapper.Resolve(kv, key)
	if err != nil {
		return mapping.Pair{}, err
	}
	return mapping.Pair{Key: key, PairMapping: md}, nil
}

func (c *Contract) PairMappings(kv store.KV, page *store.Page) (PairMappingsResponse, error) {
	pairs, err := c.mapper.List(kv, page)
	return PairMappingsResponse{Pairs: pairs}, err
}

func (c *Contract) PairMappingsFromAssetInfo(kv store.KV, info amount.AssetInfo) ([]mapping.Pair, error) {
	return c.mapper.ReverseLookup(kv, info)
}

// GetTransferTokenFee returns the ratio charged on remoteDenom, zero if none.
func (c *Contract) GetTransferTokenFee(kv store.KV, remoteDenom string) (fees.TokenFee, error) {
	ratio, _, err := c.fees.TokenFee(kv, remoteDenom)
	if err != nil {
		return fees.TokenFee{}, err
	}
	return fees.TokenFee{TokenDenom: remoteDenom, Ratio: ratio}, nil
}
