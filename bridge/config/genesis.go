package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/bank"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	getter "github.com/hashicorp/go-getter"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidGenesis = errors.New("invalid genesis")

const fetchTimeout = 60 * time.Second

// LoadGenesis reads a genesis file. src is a local path or an http(s) URL,
// in which case the file is downloaded to a temporary directory first.
func LoadGenesis(ctx context.Context, src string) (*GenesisConfig, error) {
	local := src
	if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		dir, err := os.MkdirTemp("", "bridge-genesis")
		if err != nil {
			return nil, fmt.Errorf("failed to create download dir: %w", err)
		}
		defer func() {
			_ = os.RemoveAll(dir)
		}()
		local = filepath.Join(dir, "genesis"+path.Ext(u.Path))
		if err := download(ctx, src, local); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	return ParseGenesis(data, strings.HasSuffix(local, ".json"))
}

func download(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	httpGetter := &getter.HttpGetter{}
	client := getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("failed to download genesis from %s: %w", src, err)
	}
	return nil
}

// ParseGenesis decodes TOML, or JSON when isJSON is set, and validates it.
func ParseGenesis(data []byte, isJSON bool) (*GenesisConfig, error) {
	var g GenesisConfig
	if isJSON {
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to parse JSON genesis: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to parse TOML genesis: %w", err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks what can be checked without a store.
func (g *GenesisConfig) Validate() error {
	if g.Instantiate.Admin == "" {
		return fmt.Errorf("%w: instantiate.admin is required", ErrInvalidGenesis)
	}
	channels := make(map[string]bool, len(g.Channels))
	for _, ch := range g.Channels {
		if ch.ChannelID == "" || ch.Counterparty.ChannelID == "" || ch.Counterparty.PortID == "" {
			return fmt.Errorf("%w: channel needs channel_id and a full counterparty", ErrInvalidGenesis)
		}
		channels[ch.ChannelID] = true
	}
	for _, m := range g.Mappings {
		if !channels[m.LocalChannelID] {
			return fmt.Errorf("%w: mapping %s uses unknown channel %s", ErrInvalidGenesis, m.Denom, m.LocalChannelID)
		}
		if err := m.AssetInfo.Validate(); err != nil {
			return fmt.Errorf("%w: mapping %s: %w", ErrInvalidGenesis, m.Denom, err)
		}
	}
	for _, b := range g.Balances {
		if err := amount.Validate(b.Amount); err != nil {
			return fmt.Errorf("%w: balance of %s: %w", ErrInvalidGenesis, b.Address, err)
		}
	}
	for _, fee := range g.TokenFees {
		if fee.Ratio.Denominator == 0 {
			return fmt.Errorf("%w: token fee for %s has a zero denominator", ErrInvalidGenesis, fee.TokenDenom)
		}
	}
	return nil
}

// Apply replays the genesis through the host as its admin, so every piece of
// state goes through the same checks a live call would.
func (g *GenesisConfig) Apply(ctx context.Context, h *host.Host) error {
	if _, err := h.Instantiate(ctx, g.Instantiate.Admin, g.Instantiate); err != nil {
		return fmt.Errorf("failed to instantiate: %w", err)
	}

	err := h.Genesis(ctx, func(kv store.KV, b *bank.Bank) error {
		for _, token := range g.Tokens {
			if err := b.RegisterToken(kv, token); err != nil {
				return err
			}
		}
		for _, bal := range g.Balances {
			if err := b.Credit(kv, bal.Address, bal.Denom, bal.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed bank: %w", err)
	}

	port := models.PortID(h.Address())
	for _, ch := range g.Channels {
		channel := models.IbcChannel{
			Endpoint:             models.IbcEndpoint{PortID: port, ChannelID: ch.ChannelID},
			CounterpartyEndpoint: ch.Counterparty,
			Order:                models.OrderUnordered,
			Version:              models.Ics20Version,
			ConnectionID:         ch.ConnectionID,
		}
		if err := h.ChannelOpen(ctx, channel, models.Ics20Version); err != nil {
			return fmt.Errorf("failed to open %s: %w", ch.ChannelID, err)
		}
		if _, err := h.ChannelConnect(ctx, channel, models.Ics20Version); err != nil {
			return fmt.Errorf("failed to connect %s: %w", ch.ChannelID, err)
		}
	}

	admin := g.Instantiate.Admin
	for _, m := range g.Mappings {
		msg := m
		if _, err := h.Execute(ctx, admin, nil, relay.ExecuteMsg{UpdateMappingPair: &msg}); err != nil {
			return fmt.Errorf("failed to map %s: %w", m.Denom, err)
		}
	}

	if len(g.TokenFees) > 0 || len(g.RelayerFees) > 0 {
		_, err := h.Execute(ctx, admin, nil, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{
			TokenFee:   g.TokenFees,
			RelayerFee: g.RelayerFees,
		}})
		if err != nil {
			return fmt.Errorf("failed to set fees: %w", err)
		}
	}
	return nil
}
