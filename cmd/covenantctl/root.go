package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	keyFile     string
	adminSecret string
)

var rootCmd = &cobra.Command{
	Use:           "covenantctl",
	Short:         "Client for the Covenant SLA enforcement ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "ledger API base URL")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key-file", "", "path to Ed25519 seed file (default ~/.covenant/key)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", os.Getenv("COVENANT_SECRET"), "operator secret for deposit")

	rootCmd.AddCommand(
		keygenCmd, initCmd, depositCmd, registerCmd, defineSLACmd,
		reportCmd, slashCmd, successCmd, withdrawCmd,
		statusCmd, providerCmd, providersCmd, balanceCmd, logCmd,
	)
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".covenant/key"
	}
	return filepath.Join(home, ".covenant", "key")
}

func keyPath() string {
	if keyFile != "" {
		return keyFile
	}
	return defaultKeyPath()
}

// loadKey reads the hex-encoded Ed25519 seed from the key file.
func loadKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(keyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read key file (run 'covenantctl keygen'?): %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("key file: got %d seed bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Ed25519 signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := keyPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("key file %s already exists", path)
		}
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("generate seed: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		fmt.Printf("Key written to %s\nPublic key: %s\n", path, hex.EncodeToString(pub))
		return nil
	},
}
