package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/runner"
)

func newExecCmd(g *globalOptions) *cobra.Command {
	var (
		envFile    string
		noLockdown bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Run a command with derived keys injected and masked",
		Long: `Resolve dstack-key:// references found in the environment and the env
file ("-" reads it from stdin), then launch the command with the derived keys in their place. Every key
value is masked in stdout/stderr with [REDACTED].

  DB_KEY=dstack-key://db?purpose=encryption
  SIGNER=dstack-key://wallet/eth?format=eth

On Linux the child runs with ptrace blocked and is not dumpable unless
--no-lockdown is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runner.Harden(); err != nil {
				logx.Warnf("exec: could not mark process non-dumpable: %v", err)
			}

			entries, err := readEnvEntries(cmd, envFile)
			if err != nil {
				if cmd.Flags().Changed("env-file") || !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("parse env file: %w", err)
				}
				entries = nil
			}

			scan := runner.ScanEnv(os.Environ(), entries)
			env, secrets := scan.PlainEnv, []string(nil)
			if len(scan.Refs) > 0 {
				env, secrets, err = runner.Resolve(commandContext(cmd), g.dstack(), scan)
				if err != nil {
					return err
				}
			}

			code, err := runner.Run(runner.RunConfig{
				Command:  args[0],
				Args:     args[1:],
				Env:      env,
				Secrets:  secrets,
				Lockdown: !noLockdown && runtime.GOOS == "linux",
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to .env file (skipped if not found and not explicitly set)")
	cmd.Flags().BoolVar(&noLockdown, "no-lockdown", false, "Disable seccomp lockdown of the child process")
	return cmd
}

func readEnvEntries(cmd *cobra.Command, path string) ([]runner.EnvEntry, error) {
	if path == "-" {
		return runner.ParseEnv(cmd.InOrStdin())
	}
	return runner.ParseEnvFile(path)
}
