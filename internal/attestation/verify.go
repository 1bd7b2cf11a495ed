package attestation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/eventlog"
)

var (
	ErrRTMRMismatch       = errors.New("rtmr mismatch")
	ErrReportDataMismatch = errors.New("report data mismatch")
)

// RegisterResult compares one quoted register against its replay.
type RegisterResult struct {
	Index    int    `json:"index"`
	Quoted   string `json:"quoted"`
	Replayed string `json:"replayed"`
	Match    bool   `json:"match"`
}

// Report is the outcome of checking an event log against a quote.
type Report struct {
	Registers  []RegisterResult `json:"registers"`
	OutOfRange []int            `json:"out_of_range,omitempty"`
}

// OK reports whether every register matched.
func (r *Report) OK() bool {
	for _, reg := range r.Registers {
		if !reg.Match {
			return false
		}
	}
	return true
}

func (r *Report) mismatched() []string {
	var names []string
	for _, reg := range r.Registers {
		if !reg.Match {
			names = append(names, fmt.Sprintf("rtmr%d", reg.Index))
		}
	}
	return names
}

// VerifyEventLog replays entries and compares the result with the quote's
// RTMRs. The report is returned alongside ErrRTMRMismatch so callers can
// show which registers diverged.
func VerifyEventLog(q *Quote, entries []eventlog.Entry) (*Report, error) {
	replayed, err := eventlog.Replay(entries)
	if err != nil {
		return nil, err
	}
	report := &Report{OutOfRange: eventlog.OutOfRange(entries)}
	for i := 0; i < eventlog.RegisterCount; i++ {
		quoted := q.RTMRHex(i)
		report.Registers = append(report.Registers, RegisterResult{
			Index:    i,
			Quoted:   quoted,
			Replayed: replayed[i],
			Match:    quoted == replayed[i],
		})
	}
	if !report.OK() {
		return report, fmt.Errorf("%w: %s", ErrRTMRMismatch, strings.Join(report.mismatched(), ", "))
	}
	return report, nil
}

// CheckReportData confirms the quote carries want, zero-padded to 64 bytes.
func CheckReportData(q *Quote, want []byte) error {
	if len(want) > reportDataSize {
		return fmt.Errorf("%w: expected value is %d bytes", ErrReportDataMismatch, len(want))
	}
	padded := make([]byte, reportDataSize)
	copy(padded, want)
	if !bytes.Equal(q.ReportData, padded) {
		return ErrReportDataMismatch
	}
	return nil
}

// VerifyEvidence parses rawQuote and checks eventLog against it. When
// reportData is non-nil it must match the quote's REPORTDATA too. The quote
// and report are returned whenever parsing got that far.
func VerifyEvidence(rawQuote []byte, eventLog string, reportData []byte) (*Quote, *Report, error) {
	q, err := ParseQuote(rawQuote)
	if err != nil {
		return nil, nil, err
	}
	entries, err := eventlog.ParseString(eventLog)
	if err != nil {
		return q, nil, err
	}
	report, err := VerifyEventLog(q, entries)
	if err != nil {
		return q, report, err
	}
	if reportData != nil {
		if err := CheckReportData(q, reportData); err != nil {
			return q, report, err
		}
	}
	return q, report, nil
}

// VerifyTcbInfo replays the event log carried in a raw tcb_info document
// (object or JSON string) against rtmrs.
func VerifyTcbInfo(rawTcbInfo string, rtmrs [4][]byte) (*Report, error) {
	info, err := dstack.DecodeTcbInfo(json.RawMessage(rawTcbInfo))
	if err != nil {
		return nil, err
	}
	return VerifyEventLog(&Quote{RTMRs: rtmrs}, info.EventLog)
}
