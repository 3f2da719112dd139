package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"charitylottery/internal/address"
	"charitylottery/internal/config"
	"charitylottery/internal/handlers"
	"charitylottery/internal/ledger"
	"charitylottery/internal/oracle"
	"charitylottery/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/spf13/cobra"
	"go.dedis.ch/kyber/v3/util/random"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "charity-lottery",
		Short:        "Charity lottery with verifiable randomness",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newTicketAddressCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath, listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lottery HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			if err := config.ValidateConfig(*cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides the config file")
	return cmd
}

func newTicketAddressCmd() *cobra.Command {
	var program string
	var roundID, index uint64
	cmd := &cobra.Command{
		Use:   "ticket-address",
		Short: "Print the deterministic address of a ticket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), address.Ticket(program, roundID, index))
			return nil
		},
	}
	cmd.Flags().StringVar(&program, "program", config.DefaultConfig().Lottery.ProgramID, "program id")
	cmd.Flags().Uint64Var(&roundID, "round", 1, "round id")
	cmd.Flags().Uint64Var(&index, "index", 0, "ticket index")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	// 1. Logging
	logFile, err := openLog(cfg.Log.File)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer logger.Init("charity-lottery", cfg.Log.Verbose, false, logFile).Close()

	// 2. Ledger
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Randomness beacon
	beacon := newBeacon(cfg.Oracle.KeySeed)
	logger.Infof("oracle public key %s", beacon.PublicKey())

	// 4. Lottery service
	lotteryService := services.NewLotteryService(store, beacon, services.Params{
		ProgramID:             cfg.Lottery.ProgramID,
		Admin:                 cfg.Server.AdminIdentity,
		MinRevealDelay:        cfg.Lottery.MinRevealDelay,
		RevealWindow:          cfg.Lottery.RevealWindow,
		MaxTicketsPerPurchase: cfg.Lottery.MaxTicketsPerPurchase,
	})

	// 5. HTTP handler and router
	httpHandler := handlers.NewHTTPHandler(lotteryService, beacon.PublicKey(), cfg.Server.EnableFaucet, cfg.Server.SignatureWindow)
	r := gin.New()
	r.Use(gin.Recovery())
	httpHandler.RegisterRoutes(r)

	// 6. Run the server until interrupted
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: r}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", cfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openLog(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newBeacon derives the beacon key from keySeed, or draws a fresh one when
// it is empty. Pending requests do not survive a restart; their rounds
// recover through recommit once the reveal deadline passes.
func newBeacon(keySeed string) *oracle.Beacon {
	if keySeed == "" {
		return oracle.NewBeacon(random.New())
	}
	return oracle.NewBeaconFromSeed([]byte(keySeed))
}
