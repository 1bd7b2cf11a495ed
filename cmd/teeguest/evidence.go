package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/evidence"
)

const (
	envEvidenceDB     = "TEEGUEST_EVIDENCE_DB"
	defaultEvidenceDB = "teeguest-evidence.db"
)

func evidenceDBPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv(envEvidenceDB)); v != "" {
		return v
	}
	return defaultEvidenceDB
}

func newEvidenceCmd() *cobra.Command {
	var dbPath string

	open := func() (*evidence.Store, error) {
		return evidence.NewStore(evidenceDBPath(dbPath))
	}
	get := func(store *evidence.Store, id string) (*evidence.Record, error) {
		rec, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: %s", evidence.ErrNotFound, id)
		}
		return rec, nil
	}

	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Manage archived quotes",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Evidence database path (or TEEGUEST_EVIDENCE_DB)")

	var (
		appID string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived quotes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.List(evidence.ListOptions{AppID: appID, Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAPP\tCREATED\tVERIFIED")
			for _, r := range recs {
				verified := "no"
				if r.Verified && r.VerifiedAt != nil {
					verified = r.VerifiedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.AppID, r.CreatedAt.Format(time.RFC3339), verified)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&appID, "app-id", "", "Only show records for this app")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum number of records, 0 for all")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one archived quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := get(store, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	verify := &cobra.Command{
		Use:   "verify <id>",
		Short: "Replay an archived event log against its quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := get(store, args[0])
			if err != nil {
				return err
			}

			reportData := rec.ReportData
			if len(reportData) == 0 && rec.HashAlgorithm != "" {
				// Hashed with an algorithm not computable here; registers only.
				reportData = nil
			}
			_, report, verr := attestation.VerifyEvidence(rec.Quote, rec.EventLog, reportData)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			if verr != nil && !errors.Is(verr, attestation.ErrRTMRMismatch) && !errors.Is(verr, attestation.ErrReportDataMismatch) {
				return verr
			}
			if err := store.MarkVerified(rec.ID, verr == nil); err != nil {
				return err
			}
			return verr
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an archived quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	}

	cmd.AddCommand(list, show, verify, del)
	return cmd
}
