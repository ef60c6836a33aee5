package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pushchain/push-signer-node/signerClient/db"
	"github.com/pushchain/push-signer-node/signerClient/ledger"
	"github.com/pushchain/push-signer-node/signerClient/logger"
	"github.com/pushchain/push-signer-node/signerClient/tss"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Serve a devnet ledger that ratifies aggregate public key votes",
		Long: `
Serves the ledger JSON-RPC API (signer_getAggregatePublicKey,
signer_getAggregatePublicKeyVote, signer_castAggregatePublicKeyVote) over HTTP.
Votes are checked against the signer registry in the config and a key is
ratified once ledger_server.quorum signers voted for it.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.Init(cfg).With().Str("component", "ledger").Logger()

			keys, err := tss.ParsePublicKeys(cfg.Signers, cfg.SignerKeyIDs)
			if err != nil {
				return err
			}
			database, err := db.OpenFileDB(cfg.NodeHome, cfg.LedgerServer.DatabaseFile, true)
			if err != nil {
				return err
			}
			defer database.Close()

			rpcServer, err := ledger.NewServer(ledger.NewService(database.Client(), keys, cfg.LedgerServer.Quorum, log))
			if err != nil {
				return err
			}
			defer rpcServer.Stop()

			ln, err := net.Listen("tcp", cfg.LedgerServer.ListenAddr)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: rpcServer, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().
				Str("addr", ln.Addr().String()).
				Int("quorum", cfg.LedgerServer.Quorum).
				Int("signers", len(cfg.Signers)).
				Msg("devnet ledger listening")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("ledger-listen", "", "HTTP listen address of the ledger")
	cmd.Flags().Int("log-level", 1, "log level (0 = debug ... 5 = panic)")
	return cmd
}
