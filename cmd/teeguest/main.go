package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/runner"
	"github.com/aspect-build/teeguest/internal/version"
)

// globalOptions carries the persistent flags shared by every subcommand.
type globalOptions struct {
	endpoint string
	tappd    bool
	logLevel string
	verbose  bool
	timeout  time.Duration
}

func (g *globalOptions) clientOptions() []dstack.Option {
	var opts []dstack.Option
	if g.endpoint != "" {
		opts = append(opts, dstack.WithEndpoint(g.endpoint))
	}
	if g.timeout > 0 {
		opts = append(opts, dstack.WithTimeout(g.timeout))
	}
	return opts
}

func (g *globalOptions) dstack() *dstack.DstackClient {
	c := dstack.NewDstackClient(g.clientOptions()...)
	logx.Debugf("cli.client api=dstack endpoint=%s", c.Endpoint())
	return c
}

func (g *globalOptions) legacy() *dstack.TappdClient {
	c := dstack.NewTappdClient(g.clientOptions()...)
	logx.Debugf("cli.client api=tappd endpoint=%s", c.Endpoint())
	return c
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "teeguest",
		Short:         "Talk to the in-guest attestation daemon of a TDX confidential VM",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logx.Configure(g.logLevel, g.verbose)
		},
	}
	rootCmd.SetVersionTemplate(version.String("teeguest") + "\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.endpoint, "endpoint", "", "Daemon endpoint: socket path or http(s) URL (or set DSTACK_SIMULATOR_ENDPOINT)")
	pf.BoolVar(&g.tappd, "tappd", false, "Use the legacy tappd API where a command supports both")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error (or TEEGUEST_LOG_LEVEL)")
	pf.BoolVar(&g.verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	pf.DurationVar(&g.timeout, "timeout", 0, "Per-call timeout, 0 for none")

	rootCmd.AddCommand(
		newInfoCmd(g),
		newGetKeyCmd(g),
		newDeriveKeyCmd(g),
		newTLSKeyCmd(g),
		newQuoteCmd(g),
		newEmitEventCmd(g),
		newReplayCmd(g),
		newVerifyCmd(g),
		newAttestCmd(g),
		newEvidenceCmd(),
		newWalletCmd(g),
		newExecCmd(g),
		newLockdownCmd(),
	)
	return rootCmd
}

// newLockdownCmd is the hidden re-entry point used by exec to harden the
// child before execve into the target binary.
func newLockdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:                runner.LockdownArg + " -- <command> [args...]",
		Hidden:             true,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && args[0] == "--" {
				args = args[1:]
			}
			return runner.LockdownExec(args)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// inputBytes reads s as hex when asHex is set, as the contents of stdin when
// s is "-", and as UTF-8 text otherwise.
func inputBytes(cmd *cobra.Command, s string, asHex bool) ([]byte, error) {
	if s == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if asHex {
			s = strings.TrimSpace(string(b))
		} else {
			return b, nil
		}
	}
	if asHex {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode hex input: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
