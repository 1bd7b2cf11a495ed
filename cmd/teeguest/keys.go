package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/dstack"
)

func newGetKeyCmd(g *globalOptions) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "get-key <path>",
		Short: "Derive a deterministic key for this application",
		Long: `Ask the daemon for the key bound to <path> and print it with its
signature chain. The same application always receives the same key for the
same path and purpose.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.dstack().GetKey(commandContext(cmd), args[0], purpose)
			if err != nil {
				return err
			}
			key, err := resp.DecodeKey()
			if err != nil {
				return fmt.Errorf("decode key: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"path":            args[0],
				"purpose":         purpose,
				"key":             hex.EncodeToString(key),
				"signature_chain": resp.SignatureChain,
			})
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", "", "Purpose string bound into the signature chain")
	return cmd
}

func newDeriveKeyCmd(g *globalOptions) *cobra.Command {
	var (
		subject  string
		altNames []string
		pemOut   bool
	)

	cmd := &cobra.Command{
		Use:   "derive-key <path>",
		Short: "Derive a key and certificate through the legacy tappd API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.legacy().DeriveKeyWithSubjectAndAltNames(commandContext(cmd), args[0], subject, altNames)
			if err != nil {
				return err
			}
			if pemOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			key, err := resp.DecodeKey()
			if err != nil {
				return fmt.Errorf("decode key: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"path":              args[0],
				"key":               hex.EncodeToString(key),
				"certificate_chain": resp.CertificateChain,
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Certificate subject (defaults to the path)")
	cmd.Flags().StringSliceVar(&altNames, "alt-name", nil, "Subject alternative name (repeatable)")
	cmd.Flags().BoolVar(&pemOut, "pem", false, "Print the PEM key as returned instead of the raw scalar")
	return cmd
}

func newTLSKeyCmd(g *globalOptions) *cobra.Command {
	var cfg dstack.TlsKeyConfig

	cmd := &cobra.Command{
		Use:   "tls-key",
		Short: "Generate a fresh TLS key with a certificate issued by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.dstack().GetTlsKey(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Subject, "subject", "", "Certificate subject")
	f.StringSliceVar(&cfg.AltNames, "alt-name", nil, "Subject alternative name (repeatable)")
	f.BoolVar(&cfg.UsageRaTls, "ra-tls", false, "Embed the attestation extension")
	f.BoolVar(&cfg.UsageServerAuth, "server-auth", false, "Allow server authentication")
	f.BoolVar(&cfg.UsageClientAuth, "client-auth", false, "Allow client authentication")
	return cmd
}
