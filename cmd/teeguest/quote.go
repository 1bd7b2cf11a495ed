package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/evidence"
)

func newQuoteCmd(g *globalOptions) *cobra.Command {
	var (
		asHex   bool
		raw     bool
		hashAlg string
		decode  bool
		save    bool
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "quote [report-data]",
		Short: "Request a TDX quote binding report data",
		Long: `Request a quote whose REPORTDATA carries report-data (at most 64 bytes,
zero-padded). Use "-" to read report-data from stdin.

--raw sends exactly 64 bytes through the legacy RawQuote call. --hash (or
--tappd) uses the legacy TdxQuote call, which hashes report-data with the
named algorithm first. --save archives the quote in the evidence store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var data []byte
			if len(args) == 1 {
				var err error
				if data, err = inputBytes(cmd, args[0], asHex); err != nil {
					return err
				}
			}

			var (
				resp       *dstack.QuoteResponse
				reportData = data
				err        error
			)
			switch {
			case raw:
				resp, err = g.legacy().RawQuote(ctx, data)
			case g.tappd || cmd.Flags().Changed("hash"):
				alg, perr := dstack.ParseQuoteHashAlgorithm(hashAlg)
				if perr != nil {
					return perr
				}
				resp, err = g.legacy().TdxQuote(ctx, data, alg)
				if err == nil {
					reportData, err = dstack.ReportDataFor(alg, resp.Prefix, data)
					if errors.Is(err, dstack.ErrInvalidHashAlgorithm) {
						// The daemon accepted an algorithm we cannot compute locally.
						reportData, err = nil, nil
					}
				}
			default:
				resp, err = g.dstack().GetQuote(ctx, data)
			}
			if err != nil {
				return err
			}

			if save {
				id, err := saveEvidence(cmd, g, dbPath, resp, reportData)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved evidence %s\n", id)
			}

			if !decode {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			quote, err := resp.DecodeQuote()
			if err != nil {
				return err
			}
			q, err := attestation.ParseQuote(quote)
			if err != nil {
				return err
			}
			out, err := q.JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	f := cmd.Flags()
	f.BoolVar(&asHex, "hex", false, "Treat report-data as hex")
	f.BoolVar(&raw, "raw", false, "Use the legacy RawQuote call (report-data must be 64 bytes)")
	f.StringVar(&hashAlg, "hash", "", "Hash algorithm for the legacy TdxQuote call (default sha512)")
	f.BoolVar(&decode, "decode", false, "Print the parsed quote instead of the raw response")
	f.BoolVar(&save, "save", false, "Archive the quote in the evidence store")
	f.StringVar(&dbPath, "db", "", "Evidence database path (or TEEGUEST_EVIDENCE_DB)")
	return cmd
}

func saveEvidence(cmd *cobra.Command, g *globalOptions, dbPath string, resp *dstack.QuoteResponse, reportData []byte) (string, error) {
	ctx := commandContext(cmd)
	var (
		info *dstack.InfoResponse
		err  error
	)
	if g.tappd {
		info, err = g.legacy().Info(ctx)
	} else {
		info, err = g.dstack().Info(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("fetch identity for evidence: %w", err)
	}
	quote, err := resp.DecodeQuote()
	if err != nil {
		return "", err
	}

	store, err := evidence.NewStore(evidenceDBPath(dbPath))
	if err != nil {
		return "", err
	}
	defer store.Close()

	rec := &evidence.Record{
		AppID:         info.AppID,
		InstanceID:    info.InstanceID,
		ReportData:    reportData,
		Quote:         quote,
		EventLog:      resp.EventLog,
		HashAlgorithm: resp.HashAlgorithm,
	}
	if err := store.Save(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func newEmitEventCmd(g *globalOptions) *cobra.Command {
	var asHex bool

	cmd := &cobra.Command{
		Use:   "emit-event <name> [payload]",
		Short: "Extend RTMR3 with a runtime event",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				var err error
				if payload, err = inputBytes(cmd, args[1], asHex); err != nil {
					return err
				}
			}
			if err := g.dstack().EmitEvent(commandContext(cmd), args[0], payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "emitted %s (%d bytes)\n", args[0], len(payload))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "Treat payload as hex")
	return cmd
}
