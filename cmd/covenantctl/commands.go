package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/ledger"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the protocol registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		if err := doRequest("POST", "/api/protocol/initialize", nil, priv, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <account-hex> <amount>",
	Short: "Credit an account's general balance (operator only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/accounts/deposit", map[string]any{
			"account": args[0],
			"amount":  amount,
		}, nil, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	registerName     string
	registerEndpoint string
	registerStake    uint64
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register as a provider with staked collateral",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/providers", map[string]any{
			"name":             registerName,
			"service_endpoint": registerEndpoint,
			"stake_amount":     registerStake,
		}, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	slaUptime   uint8
	slaRespMs   uint32
	slaAccuracy uint8
	slaPenalty  uint8
)

var defineSLACmd = &cobra.Command{
	Use:   "define-sla",
	Short: "Define or replace the SLA terms for your provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/sla", map[string]any{
			"uptime_guarantee_pct":   slaUptime,
			"max_response_time_ms":   slaRespMs,
			"accuracy_guarantee_pct": slaAccuracy,
			"penalty_pct":            slaPenalty,
		}, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	reportType        string
	reportEvidence    string
	reportDescription string
)

var reportCmd = &cobra.Command{
	Use:   "report <provider-address>",
	Short: "Report an SLA violation against a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		evidenceHash := reportEvidence
		// --evidence-file hashes local evidence; the ledger stores only the
		// commitment, never the content.
		if evidenceFile, _ := cmd.Flags().GetString("evidence-file"); evidenceFile != "" {
			raw, err := os.ReadFile(evidenceFile)
			if err != nil {
				return fmt.Errorf("read evidence file: %w", err)
			}
			h := ledger.EvidenceHash(raw)
			evidenceHash = hex.EncodeToString(h[:])
		}
		var out map[string]any
		err = doRequest("POST", "/api/providers/"+args[0]+"/violations", map[string]any{
			"violation_type": reportType,
			"evidence_hash":  evidenceHash,
			"description":    reportDescription,
		}, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var slashCmd = &cobra.Command{
	Use:   "slash <provider-address> <seq>",
	Short: "Execute slashing for a violation you reported",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/providers/"+args[0]+"/violations/"+args[1]+"/slash", nil, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var successCmd = &cobra.Command{
	Use:   "success <provider-address>",
	Short: "Record a successful service request for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/providers/"+args[0]+"/success", nil, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <amount>",
	Short: "Withdraw stake from your vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		_, priv, err := loadKey()
		if err != nil {
			return err
		}
		var out map[string]any
		err = doRequest("POST", "/api/stake/withdraw", map[string]any{"amount": amount}, priv, &out)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the protocol registry counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doRequest("GET", "/api/protocol", nil, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var providerCmd = &cobra.Command{
	Use:   "provider <address>",
	Short: "Show one provider record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doRequest("GET", "/api/providers/"+args[0], nil, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List all provider records",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []map[string]any
		if err := doRequest("GET", "/api/providers", nil, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance [account-hex]",
	Short: "Show an account balance (defaults to your own key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := ""
		if len(args) == 1 {
			account = args[0]
		} else {
			pub, _, err := loadKey()
			if err != nil {
				return err
			}
			account = hex.EncodeToString(pub)
		}
		var out map[string]any
		if err := doRequest("GET", "/api/accounts/"+account+"/balance", nil, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the committed transaction log",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []map[string]any
		if err := doRequest("GET", "/api/log", nil, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func parseAmount(s string) (uint64, error) {
	var amount uint64
	if _, err := fmt.Sscanf(s, "%d", &amount); err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "provider display name")
	registerCmd.Flags().StringVar(&registerEndpoint, "endpoint", "", "service endpoint URL")
	registerCmd.Flags().Uint64Var(&registerStake, "stake", 0, "stake amount in native units")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("stake")

	defineSLACmd.Flags().Uint8Var(&slaUptime, "uptime", 99, "uptime guarantee percentage")
	defineSLACmd.Flags().Uint32Var(&slaRespMs, "response-ms", 1000, "max response time in milliseconds")
	defineSLACmd.Flags().Uint8Var(&slaAccuracy, "accuracy", 95, "accuracy guarantee percentage")
	defineSLACmd.Flags().Uint8Var(&slaPenalty, "penalty", 10, "penalty percentage of stake per violation")

	reportCmd.Flags().StringVar(&reportType, "type", "other", "violation type (uptime, response_time, accuracy, service_unavailable, other)")
	reportCmd.Flags().StringVar(&reportEvidence, "evidence-hash", "", "hex SHA3-256 commitment over off-chain evidence")
	reportCmd.Flags().String("evidence-file", "", "hash this file as the evidence commitment")
	reportCmd.Flags().StringVar(&reportDescription, "description", "", "free-text annotation")
}
