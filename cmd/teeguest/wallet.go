package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/wallet"
)

func newWalletCmd(g *globalOptions) *cobra.Command {
	var (
		chain   string
		purpose string
		secure  bool
		sign    string
	)

	cmd := &cobra.Command{
		Use:   "wallet <path>",
		Short: "Show the wallet account derived from the key at <path>",
		Long: `Derive the key at <path> and turn it into an Ethereum (secp256k1) or
Solana (Ed25519) account. --secure hashes the whole key instead of using its
first 32 bytes. --sign signs a message with the account.`,
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

			out := map[string]string{"path": args[0], "chain": chain}
			switch chain {
			case "eth":
				newAccount := wallet.NewEthereumAccount
				if secure {
					newAccount = wallet.NewEthereumAccountSecure
				}
				acct, err := newAccount(key)
				if err != nil {
					return err
				}
				out["address"] = acct.Address.Hex()
				if sign != "" {
					sig, err := acct.SignMessage([]byte(sign))
					if err != nil {
						return err
					}
					out["signature"] = "0x" + hex.EncodeToString(sig)
				}
			case "sol":
				newKeypair := wallet.NewEd25519Keypair
				if secure {
					newKeypair = wallet.NewEd25519KeypairSecure
				}
				kp, err := newKeypair(key)
				if err != nil {
					return err
				}
				out["public_key"] = hex.EncodeToString(kp.PublicKey)
				if sign != "" {
					out["signature"] = hex.EncodeToString(kp.Sign([]byte(sign)))
				}
			default:
				return fmt.Errorf("unknown chain %q (expected eth|sol)", chain)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&chain, "chain", "eth", "Account type: eth|sol")
	f.StringVar(&purpose, "purpose", "", "Purpose passed to GetKey")
	f.BoolVar(&secure, "secure", false, "Derive from SHA-256 of the whole key")
	f.StringVar(&sign, "sign", "", "Message to sign with the account")
	return cmd
}
