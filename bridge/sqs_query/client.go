package sqsquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "sqs").Logger()
}

// SetLogger replaces the package logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "sqs").Logger()
}

var (
	ErrZeroQuote  = errors.New("router returned a zero quote")
	ErrNoEndpoint = errors.New("no router endpoint configured")
)

// Client quotes swaps on the external router and conversion rates on the
// converter service. It keeps a primary endpoint and fails over to backups
// when the primary stops answering.
type Client struct {
	httpClient     *http.Client
	primaryURL     string
	backupURLs     []string
	currentURL     string
	mu             sync.RWMutex
	failoverConfig FailoverConfig
	quotes         *expirable.LRU[string, decimal.Decimal]

	// set while the primary watcher runs
	stopWatch context.CancelFunc
	watchDone chan struct{}
	closeOnce sync.Once
}

// FailoverConfig controls failover behavior
type FailoverConfig struct {
	// MaxRetries is the number of times to retry a failed request on the current endpoint
	MaxRetries int
	// RetryDelay is the initial delay between retries, doubled on every retry
	RetryDelay time.Duration
	// HealthCheckInterval is how often a demoted primary is probed
	HealthCheckInterval time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// CacheSize and CacheTTL bound the quote cache. A zero size disables it.
	CacheSize int
	CacheTTL  time.Duration
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		Timeout:             10 * time.Second,
		CacheSize:           256,
		CacheTTL:            30 * time.Second,
	}
}

func NewClient(apiURL string) (*Client, error) {
	return NewClientWithFailover(apiURL, nil, DefaultFailoverConfig())
}

// NewClientWithFailover validates every endpoint. Invalid backups are skipped,
// an invalid primary is an error.
func NewClientWithFailover(primaryURL string, backupURLs []string, config FailoverConfig) (*Client, error) {
	if primaryURL == "" {
		return nil, ErrNoEndpoint
	}
	if _, err := url.ParseRequestURI(primaryURL); err != nil {
		return nil, fmt.Errorf("invalid primary router url %q: %w", primaryURL, err)
	}

	validBackups := make([]string, 0, len(backupURLs))
	for _, u := range backupURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Ignoring invalid backup router url")
			continue
		}
		validBackups = append(validBackups, u)
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: config.Timeout},
		primaryURL:     primaryURL,
		backupURLs:     validBackups,
		currentURL:     primaryURL,
		failoverConfig: config,
	}
	if config.CacheSize > 0 {
		client.quotes = expirable.NewLRU[string, decimal.Decimal](config.CacheSize, nil, config.CacheTTL)
	}

	if len(validBackups) > 0 && config.HealthCheckInterval > 0 {
		client.watchPrimary()
	}

	log.Info().
		Str("primary", primaryURL).
		Int("backups", len(validBackups)).
		Msg("Router client ready")
	return client, nil
}

// watchPrimary probes a demoted primary every HealthCheckInterval and
// switches back once it answers.
func (c *Client) watchPrimary() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})

	go func() {
		defer close(c.watchDone)
		ticker := time.NewTicker(c.failoverConfig.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.restorePrimary(ctx)
			}
		}
	}()
}

func (c *Client) restorePrimary(ctx context.Context) {
	if c.CurrentURL() == c.primaryURL {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.failoverConfig.Timeout)
	defer cancel()
	if !c.isEndpointHealthy(probeCtx, c.primaryURL) {
		return
	}
	c.mu.Lock()
	c.currentURL = c.primaryURL
	c.mu.Unlock()
	log.Info().Str("url", c.primaryURL).Msg("Router primary is back")
}

func (c *Client) isEndpointHealthy(ctx context.Context, endpoint string) bool {
	healthURL := endpoint + "/healthcheck"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", healthURL).Msg("Router probe failed")
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// CurrentURL is the endpoint requests currently go to.
func (c *Client) CurrentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentURL
}

// failover moves to the first healthy endpoint after the current one,
// wrapping around to the primary.
func (c *Client) failover(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoints := append([]string{c.primaryURL}, c.backupURLs...)
	from := slices.Index(endpoints, c.currentURL)
	for step := 1; step < len(endpoints); step++ {
		candidate := endpoints[(from+step)%len(endpoints)]
		if !c.isEndpointHealthy(ctx, candidate) {
			continue
		}
		c.currentURL = candidate
		log.Warn().Str("url", candidate).Msg("Router failed over")
		return true
	}
	log.Warn().Str("url", c.currentURL).Msg("No healthy router endpoint, staying on current")
	return false
}

// Close stops the primary watcher. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.stopWatch != nil {
			c.stopWatch()
			<-c.watchDone
		}
	})
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// fetch retries path on the current endpoint, doubling the delay between
// attempts, and then tries one failover.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	retryDelay := c.failoverConfig.RetryDelay

	for attempt := 0; attempt <= c.failoverConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
		body, err := c.get(ctx, c.CurrentURL()+path)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}

	if len(c.backupURLs) > 0 && c.failover(ctx) {
		body, err := c.get(ctx, c.CurrentURL()+path)
		if err != nil {
			return nil, fmt.Errorf("router %s after failover: %w (before: %w)", c.CurrentURL(), err, lastErr)
		}
		return body, nil
	}

	return nil, fmt.Errorf("router unreachable after %d attempts: %w", c.failoverConfig.MaxRetries+1, lastErr)
}

// GetRoute quotes swapping tokenIn into tokenOutDenom.
func (c *Client) GetRoute(ctx context.Context, tokenIn TokenRequest, tokenOutDenom string, singleRoute bool) (RouteTokenResponse, error) {
	if tokenIn.Denom == "" || tokenIn.Amount == "" || tokenOutDenom == "" {
		return RouteTokenResponse{}, errors.New("tokenIn and tokenOutDenom are required")
	}
	path := fmt.Sprintf(
		"/router/quote?tokenIn=%s&tokenOutDenom=%s&singleRoute=%t&humanDenoms=false&applyExponents=false",
		url.QueryEscape(tokenIn.Amount+tokenIn.Denom), url.QueryEscape(tokenOutDenom), singleRoute,
	)
	body, err := c.fetch(ctx, path)
	if err != nil {
		return RouteTokenResponse{}, err
	}
	var route RouteTokenResponse
	if err := json.Unmarshal(body, &route); err != nil {
		return RouteTokenResponse{}, fmt.Errorf("decoding router quote: %w", err)
	}
	return route, nil
}

// SimulateSwap returns how much askDenom the router gives for offerAmount of
// offer. Quotes are cached per request for the configured TTL.
func (c *Client) SimulateSwap(ctx context.Context, offer amount.AssetInfo, offerAmount decimal.Decimal, askDenom string) (decimal.Decimal, error) {
	key := offerAmount.String() + offer.String() + "/" + askDenom
	if c.quotes != nil {
		if out, ok := c.quotes.Get(key); ok {
			return out, nil
		}
	}

	route, err := c.GetRoute(ctx, TokenRequest{Denom: offer.String(), Amount: offerAmount.String()}, askDenom, true)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := decimal.NewFromString(route.AmountOut)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount_out %q: %w", route.AmountOut, err)
	}
	if !out.IsPositive() {
		return decimal.Zero, ErrZeroQuote
	}
	if c.quotes != nil {
		c.quotes.Add(key, out)
	}
	return out, nil
}

// ConvertQuote asks the converter service what it pays for from.
func (c *Client) ConvertQuote(ctx context.Context, from amount.Asset) (amount.Asset, error) {
	path := "/converter/rate?denom=" + url.QueryEscape(from.Info.String())
	body, err := c.fetch(ctx, path)
	if err != nil {
		return amount.Asset{}, err
	}
	var rate ConverterRate
	if err := json.Unmarshal(body, &rate); err != nil {
		return amount.Asset{}, fmt.Errorf("failed to parse converter rate: %w", err)
	}
	if err := rate.To.Validate(); err != nil {
		return amount.Asset{}, err
	}
	if rate.Ratio.Denominator == 0 {
		return amount.Asset{}, errors.New("converter rate has a zero denominator")
	}
	out := amount.DeductFee(rate.Ratio, from.Amount)
	if out.IsZero() {
		return amount.Asset{}, ErrZeroQuote
	}
	return amount.Asset{Info: rate.To, Amount: out}, nil
}
