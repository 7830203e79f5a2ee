// Package mapping resolves ibc denom keys to the local asset they represent.
package mapping

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

var ErrMappingNotFound = errors.New("mapping pair not found")

// MappingMetadata describes how a remote denom maps onto a local asset.
type MappingMetadata struct {
	AssetInfo         amount.AssetInfo `json:"asset_info"`
	RemoteDecimals    uint8            `json:"remote_decimals"`
	AssetInfoDecimals uint8            `json:"asset_info_decimals"`
	IsMintBurn        bool             `json:"is_mint_burn"`
}

// Pair is a mapping together with its ibc denom key.
type Pair struct {
	Key         string          `json:"key"`
	PairMapping MappingMetadata `json:"pair_mapping"`
}

type Mapper struct {
	denoms store.IndexedMap[MappingMetadata]
}

func New() *Mapper {
	return &Mapper{
		denoms: store.NewIndexedMap[MappingMetadata]("ics20_mapping", "asset_info",
			func(m MappingMetadata) string { return m.AssetInfo.String() }),
	}
}

func (m *Mapper) Resolve(kv store.KV, ibcDenom string) (MappingMetadata, error) {
	md, ok, err := m.denoms.Load(kv, ibcDenom)
	if err != nil {
		return md, err
	}
	if !ok {
		return md, fmt.Errorf("%w: %s", ErrMappingNotFound, ibcDenom)
	}
	return md, nil
}

func (m *Mapper) Has(kv store.KV, ibcDenom string) (bool, error) {
	return m.denoms.Has(kv, ibcDenom)
}

// ReverseLookup lists every mapping that targets the given local asset.
func (m *Mapper) ReverseLookup(kv store.KV, asset amount.AssetInfo) ([]Pair, error) {
	entries, err := m.denoms.ByIndex(kv, asset.String())
	if err != nil {
		return nil, err
	}
	pairs := toPairs(entries)
	out := pairs[:0]
	for _, p := range pairs {
		if p.PairMapping.AssetInfo.Equal(asset) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Update replaces the mapping stored under ibcDenom. An existing entry is
// removed first so no index entry of the old asset survives.
func (m *Mapper) Update(kv store.KV, ibcDenom string, md MappingMetadata) error {
	if err := md.AssetInfo.Validate(); err != nil {
		return err
	}
	if err := m.denoms.Remove(kv, ibcDenom); err != nil {
		return err
	}
	return m.denoms.Save(kv, ibcDenom, md)
}

// Delete removes the mapping. Deleting a key that does not exist is not an error.
func (m *Mapper) Delete(kv store.KV, ibcDenom string) error {
	return m.denoms.Remove(kv, ibcDenom)
}

// List pages through mappings ordered by ibc denom key.
func (m *Mapper) List(kv store.KV, page *store.Page) ([]Pair, error) {
	entries, err := m.denoms.Range(kv, page)
	if err != nil {
		return nil, err
	}
	return toPairs(entries), nil
}

func toPairs(entries []store.Entry[MappingMetadata]) []Pair {
	out := make([]Pair, 0, len(entries))
	for _, e := range entries {
		out = append(out, Pair{Key: e.Key[0], PairMapping: e.Value})
	}
	return out
}
