package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/bank"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds every request body
const maxBodyBytes = 1 << 20

type handlers struct {
	host *host.Host
}

func registerHandlers(r chi.Router, h *handlers) {
	r.Post("/instantiate", h.instantiate)
	r.Post("/execute", h.execute)
	r.Post("/cw20/send", h.sendToken)

	r.Post("/ibc/channel/open", h.channelOpen)
	r.Post("/ibc/channel/connect", h.channelConnect)
	r.Post("/ibc/channel/close", h.channelClose)
	r.Post("/ibc/packet/receive", h.packetReceive)
	r.Post("/ibc/packet/ack", h.packetAck)
	r.Post("/ibc/packet/timeout", h.packetTimeout)

	r.Get("/query/{name}", h.queryByName)
	r.Post("/query", h.query)
	r.Get("/balance/{address}", h.balance)

	r.Get("/outbox", h.outbox)
	r.Post("/outbox/{seq}/deliver", h.deliver)
}

type instantiateRequest struct {
	Sender string        `json:"sender"`
	Msg    relay.InitMsg `json:"msg"`
}

type executeRequest struct {
	Sender string           `json:"sender"`
	Funds  []amount.Coin    `json:"funds,omitempty"`
	Msg    relay.ExecuteMsg `json:"msg"`
}

type sendTokenRequest struct {
	Sender string          `json:"sender"`
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

type channelRequest struct {
	Channel             models.IbcChannel `json:"channel"`
	CounterpartyVersion string            `json:"counterparty_version,omitempty"`
}

type packetRequest struct {
	Packet models.IbcPacket `json:"packet"`
	Ack    json.RawMessage  `json:"ack,omitempty"`
}

// callResponse is the JSON view of a committed entrypoint call.
type callResponse struct {
	Attributes []relay.Attribute `json:"attributes"`
	Data       []byte            `json:"data,omitempty"`
	Ack        json.RawMessage   `json:"ack,omitempty"`
}

func newCallResponse(res *relay.Response) callResponse {
	out := callResponse{Attributes: []relay.Attribute{}}
	if res == nil {
		return out
	}
	if res.Attributes != nil {
		out.Attributes = res.Attributes
	}
	out.Data = res.Data
	if len(res.Ack) > 0 {
		out.Ack = json.RawMessage(res.Ack)
	}
	return out
}

func (h *handlers) instantiate(w http.ResponseWriter, r *http.Request) {
	var req instantiateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.host.Instantiate(r.Context(), req.Sender, req.Msg)
	respondCall(w, res, err)
}

func (h *handlers) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Sender == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}
	res, err := h.host.Execute(r.Context(), req.Sender, req.Funds, req.Msg)
	respondCall(w, res, err)
}

func (h *handlers) sendToken(w http.ResponseWriter, r *http.Request) {
	var req sendTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Sender == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "sender and token are required")
		return
	}
	if err := amount.Validate(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.host.SendToken(r.Context(), req.Sender, req.Token, req.Amount, req.Msg)
	respondCall(w, res, err)
}

func (h *handlers) channelOpen(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondCall(w, nil, h.host.ChannelOpen(r.Context(), req.Channel, req.CounterpartyVersion))
}

func (h *handlers) channelConnect(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.host.ChannelConnect(r.Context(), req.Channel, req.CounterpartyVersion)
	respondCall(w, res, err)
}

func (h *handlers) channelClose(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.host.ChannelClose(r.Context(), req.Channel)
	respondCall(w, res, err)
}

// packetReceive never fails at the HTTP level once the body parses: errors
// travel back to the relayer inside the acknowledgement.
func (h *handlers) packetReceive(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, newCallResponse(h.host.PacketReceive(r.Context(), req.Packet)))
}

func (h *handlers) packetAck(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Ack) == 0 {
		writeError(w, http.StatusBadRequest, "ack is required")
		return
	}
	res, err := h.host.PacketAck(r.Context(), req.Packet, req.Ack)
	respondCall(w, res, err)
}

func (h *handlers) packetTimeout(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.host.PacketTimeout(r.Context(), req.Packet)
	respondCall(w, res, err)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var msg relay.QueryMsg
	if !decodeBody(w, r, &msg) {
		return
	}
	h.runQuery(w, r, msg)
}

// queryByName builds the query from the path and URL parameters, e.g.
// /v1/query/channel?id=channel-0.
func (h *handlers) queryByName(w http.ResponseWriter, r *http.Request) {
	msg, err := queryFromURL(chi.URLParam(r, "name"), r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.runQuery(w, r, msg)
}

func (h *handlers) runQuery(w http.ResponseWriter, r *http.Request, msg relay.QueryMsg) {
	out, err := h.host.Query(r.Context(), msg)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryFromURL(name string, r *http.Request) (relay.QueryMsg, error) {
	q := r.URL.Query()
	var msg relay.QueryMsg
	switch name {
	case "port":
		msg.Port = &struct{}{}
	case "list_channels":
		msg.ListChannels = &struct{}{}
	case "channel":
		msg.Channel = &relay.ChannelQuery{ID: q.Get("id")}
	case "channel_with_key":
		msg.ChannelWithKey = &relay.ChannelKeyQuery{ChannelID: q.Get("channel_id"), Denom: q.Get("denom")}
	case "config":
		msg.Config = &struct{}{}
	case "admin":
		msg.Admin = &struct{}{}
	case "allowed":
		msg.Allowed = &relay.AllowedQuery{Contract: q.Get("contract")}
	case "list_allowed", "pair_mappings":
		page, err := pageFromURL(r)
		if err != nil {
			return msg, err
		}
		if name == "list_allowed" {
			msg.ListAllowed = page
		} else {
			msg.PairMappings = page
		}
	case "pair_mapping":
		msg.PairMapping = &relay.PairQuery{Key: q.Get("key")}
	case "pair_mappings_from_asset_info":
		var info amount.AssetInfo
		switch {
		case q.Get("denom") != "":
			info = amount.NewNative(q.Get("denom"))
		case q.Get("contract") != "":
			info = amount.NewToken(q.Get("contract"))
		default:
			return msg, errors.New("denom or contract is required")
		}
		msg.PairMappingsFromAssetInfo = &info
	case "get_transfer_token_fee":
		msg.GetTransferTokenFee = &relay.TokenFeeQuery{RemoteTokenDenom: q.Get("remote_token_denom")}
	default:
		return msg, fmt.Errorf("unknown query %q", name)
	}
	return msg, nil
}

func pageFromURL(r *http.Request) (*relay.PageQuery, error) {
	q := r.URL.Query()
	page := &relay.PageQuery{}
	if v := q.Get("start_after"); v != "" {
		page.StartAfter = &v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid limit: %w", err)
		}
		l := uint32(limit)
		page.Limit = &l
	}
	if v := q.Get("order"); v != "" {
		order, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid order: %w", err)
		}
		o := uint8(order)
		page.Order = &o
	}
	return page, nil
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	denom := r.URL.Query().Get("denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "denom is required")
		return
	}
	address := chi.URLParam(r, "address")
	bal, err := h.host.Balance(r.Context(), address, denom)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, amount.NewCoin(denom, bal))
}

func (h *handlers) outbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.host.Outbox(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handlers) deliver(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}
	if err := h.host.Deliver(r.Context(), seq); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondCall(w http.ResponseWriter, res *relay.Response, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newCallResponse(res))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, relay.ErrSelfCallOnly), errors.Is(err, bank.ErrNotMinter):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrNoSuchChannel),
		errors.Is(err, relay.ErrMappingPairNotFound),
		errors.Is(err, mapping.ErrMappingNotFound),
		errors.Is(err, host.ErrUnknownEntry),
		errors.Is(err, host.ErrUnknownPacket),
		errors.Is(err, bank.ErrUnknownToken),
		errors.Is(err, store.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, host.ErrAlreadyInstantiated):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
