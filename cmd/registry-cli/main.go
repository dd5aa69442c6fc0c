package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liquidnet/asset-registry/internal/chain"
	"github.com/liquidnet/asset-registry/internal/client"
	"github.com/liquidnet/asset-registry/internal/contract"
	"github.com/liquidnet/asset-registry/internal/domainproof"
	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
	"github.com/liquidnet/asset-registry/internal/sigmsg"
)

var (
	verbose     bool
	registryURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "registry-cli",
		Short:         "Liquid asset registry tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Initialize(logger.Config{Debug: verbose})
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry-url", "http://127.0.0.1:3023", "registry base URL")

	rootCmd.AddCommand(contractJSONCmd())
	rootCmd.AddCommand(registerAssetCmd())
	rootCmd.AddCommand(verifyAssetCmd())
	rootCmd.AddCommand(deleteAssetCmd())
	rootCmd.AddCommand(proofMessageCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readArg resolves a positional argument that is either inline JSON, an
// @file reference, or - for stdin.
func readArg(arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return os.ReadFile("/dev/stdin")
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(arg[1:])
	default:
		return []byte(arg), nil
	}
}

func contractJSONCmd() *cobra.Command {
	var printHash bool
	cmd := &cobra.Command{
		Use:   "contract-json <contract>",
		Short: "Print a contract in its canonical serialization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArg(args[0])
			if err != nil {
				return err
			}
			c, err := contract.Parse(raw)
			if err != nil {
				return err
			}
			if printHash {
				fmt.Println(c.HashHex())
			} else {
				fmt.Println(string(c.Canonical()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printHash, "hash", false, "print the contract hash instead")
	return cmd
}

func registerAssetCmd() *cobra.Command {
	var assetID, contractArg, contractHash string
	cmd := &cobra.Command{
		Use:   "register-asset",
		Short: "Submit an asset registration to the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArg(contractArg)
			if err != nil {
				return err
			}
			rec, err := client.New(registryURL, time.Minute).
				Register(cmd.Context(), registry.AssetID(assetID), raw, contractHash)
			if err != nil {
				return err
			}
			out, err := rec.Canonical()
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset-id", "", "asset id (64 hex characters)")
	cmd.Flags().StringVar(&contractArg, "contract", "", "contract json, @file or -")
	cmd.Flags().StringVar(&contractHash, "contract-hash", "", "expected contract hash (optional)")
	_ = cmd.MarkFlagRequired("asset-id")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func verifyAssetCmd() *cobra.Command {
	var esploraURL string
	var failFast, checkProof bool
	cmd := &cobra.Command{
		Use:   "verify-asset <record>...",
		Short: "Verify asset records offline and, optionally, on-chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// a single record always fails hard
			failFast = failFast || len(args) == 1

			var chainClient *chain.Client
			if esploraURL != "" {
				chainClient = chain.NewClient(esploraURL, chain.DefaultTimeout)
			}
			var proof *domainproof.Verifier
			if checkProof {
				proof = domainproof.New("", domainproof.DefaultTimeout)
			}

			for _, arg := range args {
				raw, err := readArg(arg)
				if err != nil {
					return err
				}
				rec, err := registry.ParseRecord(raw)
				if err != nil {
					return err
				}
				if err := verifyRecord(cmd.Context(), rec, chainClient, proof); err != nil {
					fmt.Printf("%s,false,%q\n", rec.AssetID, err.Error())
					if failFast {
						return fmt.Errorf("failed verifying asset %s", rec.AssetID)
					}
					continue
				}
				fmt.Printf("%s,true\n", rec.AssetID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&esploraURL, "esplora-url", "", "verify on-chain status against this Esplora API")
	cmd.Flags().BoolVar(&checkProof, "proof", false, "also fetch and check the domain ownership proof")
	cmd.Flags().BoolVar(&failFast, "fail", false, "exit with an error on the first failed verification")
	return cmd
}

// verifyRecord re-runs the verifications a registry performs on a stored
// record: contract validity, asset id reconstruction, and optionally
// chain confirmation and the domain proof.
func verifyRecord(ctx context.Context, rec *registry.AssetRecord, chainClient *chain.Client, proof *domainproof.Verifier) error {
	c, err := contract.Parse(rec.Contract)
	if err != nil {
		return err
	}
	reconstructed, err := chain.ComputeAssetID(rec.IssuancePrevout, c.Hash())
	if err != nil {
		return err
	}
	if reconstructed != rec.AssetID {
		return registry.Newf(registry.KindContractHashMismatch,
			"record reconstructs asset id %s", reconstructed)
	}
	if chainClient != nil {
		if _, err := chainClient.VerifyIssuance(ctx, rec.AssetID, c.Hash()); err != nil {
			return err
		}
	}
	if proof != nil {
		if err := proof.Verify(ctx, c.Domain, rec.AssetID); err != nil {
			return err
		}
	}
	return nil
}

func deleteAssetCmd() *cobra.Command {
	var assetID, signature string
	cmd := &cobra.Command{
		Use:   "delete-asset",
		Short: "Remove an asset from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.New(registryURL, time.Minute).
				Delete(cmd.Context(), registry.AssetID(assetID), signature)
		},
	}
	cmd.Flags().StringVar(&assetID, "asset-id", "", "asset id (64 hex characters)")
	cmd.Flags().StringVar(&signature, "signature", "", "base64 signature over the deletion message")
	_ = cmd.MarkFlagRequired("asset-id")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func proofMessageCmd() *cobra.Command {
	var assetID, domain string
	cmd := &cobra.Command{
		Use:   "proof-message",
		Short: "Print the message an issuer publishes or signs",
		Long: "With --domain, prints the domain proof sentence to serve at the " +
			"well-known path. Without it, prints the deletion message to sign " +
			"with the issuer key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := registry.AssetID(assetID)
			if !id.Valid() {
				return registry.New(registry.KindMalformedJSON, "invalid asset id")
			}
			if domain != "" {
				fmt.Println(domainproof.Sentence(domain, id))
			} else {
				fmt.Println(sigmsg.DeletionMessage(id))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset-id", "", "asset id (64 hex characters)")
	cmd.Flags().StringVar(&domain, "domain", "", "issuer domain (prints the proof sentence)")
	_ = cmd.MarkFlagRequired("asset-id")
	return cmd
}
