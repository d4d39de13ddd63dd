package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/payflow/internal/account"
	"github.com/Fantasim/payflow/internal/api"
	"github.com/Fantasim/payflow/internal/compose"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/confirm"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/events"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/logging"
	"github.com/Fantasim/payflow/internal/optimistic"
	"github.com/Fantasim/payflow/internal/poll"
	"github.com/Fantasim/payflow/internal/purchase"
	"github.com/Fantasim/payflow/internal/remoteconfig"
	"github.com/Fantasim/payflow/internal/report"
	"github.com/Fantasim/payflow/internal/submit"
	"github.com/Fantasim/payflow/internal/swap"
	"github.com/Fantasim/payflow/internal/wallet"
	"github.com/Fantasim/payflow/internal/withdraw"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "accounts":
		if err := runAccounts(); err != nil {
			slog.Error("accounts error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("payflow %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: payflow <command>

Commands:
  serve     Start the HTTP server
  accounts  Print the fee payer and custodial user addresses
  version   Print version information
`)
}

// loadKeyring derives the fee payer and every custodial user wallet so the
// submitter can sign for them.
func loadKeyring(cfg *config.Config) (*wallet.Keyring, solana.PublicKey, []solana.PublicKey, error) {
	keys, err := wallet.LoadKeyring(cfg.MnemonicFile)
	if err != nil {
		return nil, solana.PublicKey{}, nil, fmt.Errorf("load keyring: %w", err)
	}
	feePayer, err := keys.Account(cfg.FeePayerIdx)
	if err != nil {
		return nil, solana.PublicKey{}, nil, fmt.Errorf("derive fee payer: %w", err)
	}

	users := make([]solana.PublicKey, 0, cfg.UserAccounts)
	for i := uint32(1); i <= cfg.UserAccounts; i++ {
		if i == cfg.FeePayerIdx {
			continue
		}
		pub, err := keys.Account(i)
		if err != nil {
			return nil, solana.PublicKey{}, nil, fmt.Errorf("derive user account %d: %w", i, err)
		}
		users = append(users, pub)
	}

	slog.Info("keyring loaded",
		"feePayer", feePayer.String(),
		"userAccounts", len(users),
	)
	return keys, feePayer, users, nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting payflow",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
	)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	keys, feePayer, _, err := loadKeyring(cfg)
	if err != nil {
		return err
	}

	usdc, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return fmt.Errorf("parse usdc mint: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpc := ledger.NewRPCClient(cfg.RPCURL, cfg.RPCRateRPS)
	submitter := submit.New(rpc, keys)
	engine := confirm.New(time.Duration(cfg.ConfirmationTimeoutSec) * time.Second)
	resolver := account.NewResolver(rpc, submitter, engine, account.NewMints(usdc), feePayer)
	settings := remoteconfig.NewStore(database)

	hub := events.NewHub(database)
	reporter := report.NewAsyncReporter()

	sessions := purchase.NewSessions(ctx, purchase.Deps{
		Resolver: resolver,
		Ledger:   rpc,
		Poller:   poll.New(rpc),
		Engine:   engine,
		Bus:      hub,
		Reporter: reporter,
		Config:   settings,
		Cache:    optimistic.NewCache(),
	})

	withdrawals := withdraw.NewController(withdraw.Deps{
		Ledger:    rpc,
		Resolver:  resolver,
		Composer:  compose.New(swap.NewJupiterClient(cfg.JupiterURL)),
		Submitter: submitter,
		Engine:    engine,
		Store:     database,
		Bus:       hub,
		Reporter:  reporter,
		Config:    settings,
		FeePayer:  feePayer,
	})

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Purchases:   sessions,
		Withdrawals: withdrawals,
		Events:      hub,
		Journal:     database,
		Settings:    database,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	// The reporter outlives the flows so their final reports are flushed.
	reportCtx, stopReporter := context.WithCancel(context.Background())
	go reporter.Run(reportCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		// In-flight purchases and withdrawals finish their ledger work
		// before the process exits.
		sessions.Wait()
		engine.Wait()
		return nil
	})

	err = g.Wait()
	stopReporter()
	<-reporter.Done()
	if err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

func runAccounts() error {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	mnemonicFile := fs.String("mnemonic-file", "", "Path to file containing the BIP-39 mnemonic (default: from PAYFLOW_MNEMONIC_FILE)")
	count := fs.Uint("count", 0, "Number of user accounts to print (default: from PAYFLOW_USER_ACCOUNTS)")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *mnemonicFile != "" {
		cfg.MnemonicFile = *mnemonicFile
	}
	if *count > 0 {
		cfg.UserAccounts = uint32(*count)
	}
	if cfg.MnemonicFile == "" {
		return fmt.Errorf("--mnemonic-file is required (or set PAYFLOW_MNEMONIC_FILE)")
	}

	_, feePayer, users, err := loadKeyring(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("fee payer  %s  %s\n", wallet.DerivationPath(cfg.FeePayerIdx), feePayer)
	idx := uint32(1)
	for _, pub := range users {
		if idx == cfg.FeePayerIdx {
			idx++
		}
		fmt.Printf("user %-5d %s  %s\n", idx, wallet.DerivationPath(idx), pub)
		idx++
	}
	return nil
}
