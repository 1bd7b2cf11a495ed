package attestation

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tdx-guest/proto/tdx"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/aspect-build/teeguest/internal/logx"
)

// TDX v4 quote layout: a 48-byte header followed by the 584-byte TD quote
// body. Offsets below are relative to the body.
const (
	QuoteHeaderSize = 48
	QuoteBodySize   = 584
	QuoteMinSize    = QuoteHeaderSize + QuoteBodySize

	QuoteVersion4 = 4
	TeeTypeTDX    = 0x81

	measurementSize = 48
	reportDataSize  = 64

	offMRTD       = 136
	offRTMR0      = 328
	offReportData = 520
)

var ErrQuoteFormat = errors.New("invalid quote")

// Quote is the subset of a TDX quote the guest cross-checks against its own
// records. Signature material is not interpreted.
type Quote struct {
	Version    uint16
	TeeType    uint32
	MRTD       []byte
	RTMRs      [4][]byte
	ReportData []byte

	// fromABI is set when the full quote, signature section included, was
	// accepted by the ABI parser.
	fromABI bool
	proto   *tdx.QuoteV4
}

// ParseQuote extracts measurements from a raw TDX v4 quote. Quotes the ABI
// parser rejects (e.g. unsigned simulator quotes) are read at fixed offsets
// once the header is confirmed to be v4 TDX.
func ParseQuote(raw []byte) (*Quote, error) {
	if parsed, err := abi.QuoteToProto(raw); err == nil {
		if q4, ok := parsed.(*tdx.QuoteV4); ok {
			if q, err := quoteFromProto(q4); err == nil {
				return q, nil
			}
		}
	} else {
		logx.Debugf("quote.abi_rejected err=%v", err)
	}
	return parseQuoteFixed(raw)
}

func quoteFromProto(q4 *tdx.QuoteV4) (*Quote, error) {
	body := q4.GetTdQuoteBody()
	if body == nil {
		return nil, fmt.Errorf("%w: missing TD quote body", ErrQuoteFormat)
	}
	rtmrs := body.GetRtmrs()
	if len(rtmrs) < 4 {
		return nil, fmt.Errorf("%w: %d RTMRs in quote body", ErrQuoteFormat, len(rtmrs))
	}
	q := &Quote{
		Version:    uint16(q4.GetHeader().GetVersion()),
		TeeType:    q4.GetHeader().GetTeeType(),
		MRTD:       body.GetMrTd(),
		ReportData: body.GetReportData(),
		fromABI:    true,
		proto:      q4,
	}
	copy(q.RTMRs[:], rtmrs[:4])
	return q, nil
}

func parseQuoteFixed(raw []byte) (*Quote, error) {
	if len(raw) < QuoteMinSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrQuoteFormat, len(raw), QuoteMinSize)
	}
	version := binary.LittleEndian.Uint16(raw[0:2])
	if version != QuoteVersion4 {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrQuoteFormat, version, QuoteVersion4)
	}
	teeType := binary.LittleEndian.Uint32(raw[4:8])
	if teeType != TeeTypeTDX {
		return nil, fmt.Errorf("%w: tee type %#x, want %#x", ErrQuoteFormat, teeType, TeeTypeTDX)
	}

	body := raw[QuoteHeaderSize:QuoteMinSize]
	field := func(off, n int) []byte {
		out := make([]byte, n)
		copy(out, body[off:off+n])
		return out
	}
	q := &Quote{
		Version:    version,
		TeeType:    teeType,
		MRTD:       field(offMRTD, measurementSize),
		ReportData: field(offReportData, reportDataSize),
	}
	for i := range q.RTMRs {
		q.RTMRs[i] = field(offRTMR0+i*measurementSize, measurementSize)
	}
	return q, nil
}

// Signed reports whether the quote was accepted by the full ABI parser.
func (q *Quote) Signed() bool { return q.fromABI }

// RTMRHex returns register i as lowercase hex.
func (q *Quote) RTMRHex(i int) string {
	if i < 0 || i >= len(q.RTMRs) {
		return ""
	}
	return hex.EncodeToString(q.RTMRs[i])
}

// Proto returns the protobuf form of the quote. Quotes read at fixed offsets
// get a proto holding only the header and measurement fields.
func (q *Quote) Proto() *tdx.QuoteV4 {
	if q.proto != nil {
		return q.proto
	}
	rtmrs := make([][]byte, len(q.RTMRs))
	copy(rtmrs, q.RTMRs[:])
	return &tdx.QuoteV4{
		Header: &tdx.Header{
			Version: uint32(q.Version),
			TeeType: q.TeeType,
		},
		TdQuoteBody: &tdx.TDQuoteBody{
			MrTd:       q.MRTD,
			Rtmrs:      rtmrs,
			ReportData: q.ReportData,
		},
	}
}

// JSON renders the quote with protojson.
func (q *Quote) JSON() ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(q.Proto())
}

// UnsignedQuote lays out a v4 TDX header and body carrying the given
// measurements with no signature section. Short inputs are zero-padded and
// long ones truncated to their field width.
func UnsignedQuote(mrtd []byte, rtmrs [4][]byte, reportData []byte) []byte {
	out := make([]byte, QuoteMinSize)
	binary.LittleEndian.PutUint16(out[0:2], QuoteVersion4)
	binary.LittleEndian.PutUint16(out[2:4], 2) // ECDSA-256 attestation key
	binary.LittleEndian.PutUint32(out[4:8], TeeTypeTDX)

	body := out[QuoteHeaderSize:]
	put := func(off, n int, v []byte) {
		copy(body[off:off+n], v)
	}
	put(offMRTD, measurementSize, mrtd)
	for i, r := range rtmrs {
		put(offRTMR0+i*measurementSize, measurementSize, r)
	}
	put(offReportData, reportDataSize, reportData)
	return out
}
