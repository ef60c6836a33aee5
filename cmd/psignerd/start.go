package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pushchain/push-signer-node/signerClient/api"
	"github.com/pushchain/push-signer-node/signerClient/config"
	"github.com/pushchain/push-signer-node/signerClient/logger"
	"github.com/pushchain/push-signer-node/signerClient/metrics"
	libp2pboard "github.com/pushchain/push-signer-node/signerClient/tss/board/libp2p"
	"github.com/pushchain/push-signer-node/signerClient/tss/node"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the signer node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.Init(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, cfg, log)
		},
	}

	cmd.Flags().Int("log-level", 1, "log level (0 = debug ... 5 = panic)")
	cmd.Flags().String("log-format", "console", "log format (json|console)")
	cmd.Flags().Int("event-timeout-ms", 5000, "how long each pass waits for board writes")
	cmd.Flags().Int("query-port", 8080, "HTTP API port")
	cmd.Flags().String("ledger-urls", "", "comma separated ledger JSON-RPC endpoints")
	cmd.Flags().String("listen", "", "libp2p board listen multiaddr")
	return cmd
}

func runNode(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	var (
		recorder metrics.Recorder = metrics.Noop{}
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewCollector(reg)
		gatherer = reg
	}

	signer, err := node.New(ctx, nodeConfig(cfg, log), node.Deps{Metrics: recorder})
	if err != nil {
		if errors.Is(err, node.ErrStartup) {
			log.Error().Err(err).Msg("signer node failed to start")
		}
		return err
	}
	defer func() {
		if err := signer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close signer node")
		}
	}()

	server := api.NewServer(signer, gatherer, log, cfg.QueryServerPort)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop API server")
		}
	}()

	log.Info().
		Uint32("signer_id", cfg.SignerID).
		Int("query_port", cfg.QueryServerPort).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("✅ Initialization complete. Entering main loop...")

	err = signer.Run(ctx)
	if ctx.Err() != nil {
		log.Info().Msg("🛑 Shutting down signer node...")
		return nil
	}
	return err
}

func nodeConfig(cfg config.Config, log zerolog.Logger) node.Config {
	peers := make([]libp2pboard.Peer, 0, len(cfg.Board.Peers))
	for _, p := range cfg.Board.Peers {
		peers = append(peers, libp2pboard.Peer{ID: p.ID, Addrs: p.Addrs})
	}

	return node.Config{
		SignerID:          cfg.SignerID,
		MessageKeyHex:     cfg.MessagePrivateKeyHex,
		Signers:           cfg.Signers,
		SignerKeyIDs:      cfg.SignerKeyIDs,
		ThresholdPercent:  cfg.ThresholdPercent,
		HomeDir:           cfg.NodeHome,
		Password:          cfg.KeysharePassword,
		DatabaseFile:      cfg.DatabaseFile,
		LedgerURLs:        cfg.LedgerURLs,
		LedgerTimeout:     cfg.LedgerTimeout(),
		LedgerRetries:     cfg.LedgerMaxRetries,
		LedgerHealthCheck: cfg.LedgerHealthCheck(),
		P2P: node.P2PConfig{
			PrivateKeyHex: cfg.Board.PrivateKeyHex,
			ListenAddr:    cfg.Board.ListenAddr,
			ProtocolID:    cfg.Board.ProtocolID,
			DialTimeout:   cfg.Board.DialTimeout(),
			IOTimeout:     cfg.Board.IOTimeout(),
			Peers:         peers,
		},
		EventTimeout:     cfg.EventTimeout(),
		MaxStartAttempts: cfg.MaxStartAttempts,
		StartRetryBase:   cfg.StartRetryBase(),
		StartRetryMax:    cfg.StartRetryMax(),
		VoteRecastAfter:  cfg.VoteRecastAfter(),
		CleanupInterval:  cfg.CleanupInterval(),
		RoundRetention:   cfg.RoundRetention(),
		Logger:           log,
	}
}
