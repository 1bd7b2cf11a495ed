package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/eventlog"
	"github.com/aspect-build/teeguest/internal/logx"
)

type replayRegister struct {
	Index    int    `json:"index"`
	Replayed string `json:"replayed"`
	Reported string `json:"reported,omitempty"`
	Match    *bool  `json:"match,omitempty"`
}

type replayOutput struct {
	Entries    int              `json:"entries"`
	Registers  []replayRegister `json:"registers"`
	OutOfRange []int            `json:"out_of_range,omitempty"`
}

func newReplayCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [event-log.json|-]",
		Short: "Recompute RTMR0..3 from an event log",
		Long: `Replay an event log and print the resulting registers. With no argument
the live log from Info is replayed and compared with the registers the daemon
reports.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entries  []eventlog.Entry
				reported map[int]string
				err      error
			)
			if len(args) == 1 {
				entries, err = readEventLog(cmd, args[0])
			} else {
				var info *dstack.InfoResponse
				if g.tappd {
					info, err = g.legacy().Info(commandContext(cmd))
				} else {
					info, err = g.dstack().Info(commandContext(cmd))
				}
				if err == nil {
					entries = info.TcbInfo.EventLog
					reported = info.TcbInfo.RTMRs()
				}
			}
			if err != nil {
				return err
			}

			replayed, err := eventlog.Replay(entries)
			if err != nil {
				return err
			}
			out := replayOutput{Entries: len(entries), OutOfRange: eventlog.OutOfRange(entries)}
			mismatch := false
			for i := 0; i < eventlog.RegisterCount; i++ {
				reg := replayRegister{Index: i, Replayed: replayed[i]}
				if reported != nil {
					match := reported[i] == replayed[i]
					reg.Reported = reported[i]
					reg.Match = &match
					if !match {
						logx.Warnf("replay: rtmr%d reported=%s replayed=%s", i, logx.Short(reported[i]), logx.Short(replayed[i]))
						mismatch = true
					}
				}
				out.Registers = append(out.Registers, reg)
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if mismatch {
				return attestation.ErrRTMRMismatch
			}
			return nil
		},
	}
	return cmd
}

func readEventLog(cmd *cobra.Command, path string) ([]eventlog.Entry, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return eventlog.Parse(b)
}

type verifyOutput struct {
	ReportData string              `json:"report_data"`
	Signed     bool                `json:"signed"`
	MRTD       string              `json:"mrtd"`
	Report     *attestation.Report `json:"report"`
}

func newVerifyCmd(g *globalOptions) *cobra.Command {
	var (
		asHex     bool
		quoteFile string
		logFile   string
	)

	cmd := &cobra.Command{
		Use:   "verify [report-data]",
		Short: "Check that a quote's registers match its event log",
		Long: `Request a fresh quote (binding report-data, or a random nonce when none is
given) and check that replaying its event log reproduces RTMR0..3 and that
REPORTDATA carries the requested value.

With --quote and --event-log the check runs offline on saved files; report-data
is then optional. Quote signatures are not checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reportData []byte
			if len(args) == 1 {
				var err error
				if reportData, err = inputBytes(cmd, args[0], asHex); err != nil {
					return err
				}
			}

			var (
				rawQuote []byte
				logJSON  string
			)
			if quoteFile != "" || logFile != "" {
				if quoteFile == "" || logFile == "" {
					return fmt.Errorf("--quote and --event-log must be given together")
				}
				q, err := os.ReadFile(quoteFile)
				if err != nil {
					return fmt.Errorf("read quote: %w", err)
				}
				if rawQuote, err = decodeQuoteFile(q); err != nil {
					return err
				}
				l, err := os.ReadFile(logFile)
				if err != nil {
					return fmt.Errorf("read event log: %w", err)
				}
				logJSON = string(l)
			} else {
				if reportData == nil {
					reportData = make([]byte, 32)
					if _, err := rand.Read(reportData); err != nil {
						return fmt.Errorf("generate nonce: %w", err)
					}
				}
				resp, err := g.dstack().GetQuote(commandContext(cmd), reportData)
				if err != nil {
					return err
				}
				if rawQuote, err = resp.DecodeQuote(); err != nil {
					return err
				}
				logJSON = resp.EventLog
			}

			q, report, verr := attestation.VerifyEvidence(rawQuote, logJSON, reportData)
			if q != nil && report != nil {
				if err := printJSON(cmd.OutOrStdout(), verifyOutput{
					ReportData: hex.EncodeToString(q.ReportData),
					Signed:     q.Signed(),
					MRTD:       hex.EncodeToString(q.MRTD),
					Report:     report,
				}); err != nil {
					return err
				}
			}
			return verr
		},
	}
	f := cmd.Flags()
	f.BoolVar(&asHex, "hex", false, "Treat report-data as hex")
	f.StringVar(&quoteFile, "quote", "", "Quote file (binary or hex) for offline checking")
	f.StringVar(&logFile, "event-log", "", "Event log JSON file for offline checking")
	return cmd
}

// decodeQuoteFile accepts a binary quote or its hex encoding.
func decodeQuoteFile(b []byte) ([]byte, error) {
	if len(b) >= attestation.QuoteMinSize && b[0] == 0x04 && b[1] == 0x00 {
		return b, nil
	}
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	if len(s) > 1 && s[:2] == "0x" {
		s = s[2:]
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("quote file is neither a binary v4 quote nor hex: %w", err)
	}
	return out, nil
}

func newAttestCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attest",
		Short: "Verify this instance's app certificate via RA-TLS",
		Long: `Collect the app certificate from Info and verify its embedded quote. Needs
a build with -tags ratls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var collector attestation.Collector = attestation.NewDstackInfoCollector(g.dstack())
			bundle, err := collector.Collect(commandContext(cmd))
			if err != nil {
				return err
			}
			var verifier attestation.Verifier = attestation.NewRATLSVerifier()
			id, err := verifier.Verify(commandContext(cmd), bundle)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"app_id":      id.AppID,
				"instance_id": id.InstanceID,
				"device_id":   id.DeviceID,
			})
		},
	}
}
