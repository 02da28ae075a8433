// Command rekey re-encrypts stored account numbers and group titles from
// OLD_ENCRYPTION_KEY to ENCRYPTION_KEY. Stop the bot before running it.
//
// rekey -generate prints a fresh key for ENCRYPTION_KEY and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"vietqr_bot/internal/config"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/secret"
	"vietqr_bot/internal/store"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "upper bound for the whole migration")
	generate := flag.Bool("generate", false, "print a new ENCRYPTION_KEY and exit")
	flag.Parse()

	if *generate {
		if err := printKey(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*timeout); err != nil {
		logging.Error("rekey failed", logging.Fields{"event": "rekey_failed", "error": err})
		fmt.Fprintf(os.Stderr, "rekey failed: %v\n", err)
		os.Exit(1)
	}
}

func run(timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	oldKey, err := config.LoadOldEncryptionKey()
	if err != nil {
		return err
	}
	from, err := secret.New(oldKey)
	if err != nil {
		return fmt.Errorf("old key: %w", err)
	}
	to, err := secret.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("new key: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	manager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancelClose()
		if err := manager.Close(closeCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		}
	}()

	ctx, cancelRun := context.WithTimeout(context.Background(), timeout)
	defer cancelRun()

	result, err := store.Rekey(ctx, manager.Accounts(), manager.Groups(), from, to)
	if err != nil {
		return err
	}

	logger.WithFields(logging.Fields{
		"event":    "rekey_complete",
		"accounts": result.Accounts,
		"groups":   result.Groups,
		"skipped":  result.Skipped,
	}).Info("stored values re-encrypted")
	fmt.Printf("re-encrypted %d accounts and %d groups (%d already current)\n", result.Accounts, result.Groups, result.Skipped)
	return nil
}

func printKey(w io.Writer) error {
	key, err := secret.GenerateKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, key)
	return err
}
