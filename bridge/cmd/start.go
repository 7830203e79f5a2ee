package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/config"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/rpc"
	sqsquery "github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/sqs_query"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the bridge and its HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runStart(ctx)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(ctx context.Context) error {
	var configPath *string
	if configFile != "" {
		configPath = &configFile
	}
	cfg, err := config.LoadRPCBridgeConfig(configPath)
	if err != nil {
		return err
	}

	log.Info().
		Str("backend", cfg.DBBackend).
		Str("path", cfg.DBPath).
		Str("contract", cfg.ContractAddress).
		Msg("Starting Spectra ICS20 bridge")

	db, err := store.Open(cfg.DBBackend, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// the router is optional; without it relayer fees outside the fee denom
	// are waived and conversions pass the asset through
	var (
		simulator fees.SwapSimulator
		converter relay.AssetConverter
	)
	if len(cfg.SqsURLs) > 0 {
		client, err := sqsquery.NewClientWithFailover(cfg.SqsURLs[0], cfg.SqsURLs[1:], sqsquery.DefaultFailoverConfig())
		if err != nil {
			return err
		}
		defer client.Close()
		simulator, converter = client, client
	}

	contract := relay.New(fees.NewEngine(simulator, cfg.BridgePrefix), converter)
	h, err := host.New(db, contract, cfg.ContractAddress)
	if err != nil {
		return err
	}

	if err := applyGenesis(ctx, h, cfg.GenesisFile); err != nil {
		return err
	}

	serverConfig := buildServerConfig(cfg)
	server, err := rpc.NewServer(ctx, serverConfig, h)
	if err != nil {
		return err
	}
	if cfg.EnableLogs {
		setLoggers(log.Hook(rpc.NewOTelHook(serverConfig.OTelConfig.ServiceName)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// applyGenesis initializes an empty store. A store that already holds an
// instantiated bridge is left untouched.
func applyGenesis(ctx context.Context, h *host.Host, src string) error {
	ok, err := h.Instantiated(ctx)
	if err != nil {
		return err
	}
	if ok {
		log.Info().Msg("Bridge already instantiated, skipping genesis")
		return nil
	}
	if src == "" {
		return errors.New("store is empty and no genesis_file is configured")
	}
	genesis, err := config.LoadGenesis(ctx, src)
	if err != nil {
		return err
	}
	if err := genesis.Apply(ctx, h); err != nil {
		return err
	}
	log.Info().
		Str("source", src).
		Int("channels", len(genesis.Channels)).
		Int("mappings", len(genesis.Mappings)).
		Msg("Genesis applied")
	return nil
}

// buildServerConfig converts the loaded RPCBridgeConfig to rpc.ServerConfig
func buildServerConfig(cfg *config.RPCBridgeConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
	}
	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     defaultString(cfg.ServiceName, "spectra-ics20-bridge"),
			ServiceVersion:  defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics || cfg.UsePrometheus,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}
	return serverConfig
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
