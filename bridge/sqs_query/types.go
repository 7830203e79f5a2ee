package sqsquery

import "github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"

type TokenRequest struct {
	Denom  string
	Amount string
}

// RouteTokenResponse is the subset of the router quote the bridge reads.
type RouteTokenResponse struct {
	AmountIn struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"amount_in"`
	AmountOut    string  `json:"amount_out"`
	Route        []Route `json:"route"`
	EffectiveFee string  `json:"effective_fee"`
	PriceImpact  string  `json:"price_impact"`
}

type Route struct {
	Pools     []Pool `json:"pools"`
	OutAmount string `json:"out_amount"`
	InAmount  string `json:"in_amount"`
}

type Pool struct {
	ID            int    `json:"id"`
	Type          int    `json:"type"`
	SpreadFactor  string `json:"spread_factor"`
	TokenOutDenom string `json:"token_out_denom"`
	TakerFee      string `json:"taker_fee"`
}

// ConverterRate is what the converter pays per unit of the asset queried.
type ConverterRate struct {
	To    amount.AssetInfo `json:"to"`
	Ratio amount.Ratio     `json:"ratio"`
}
