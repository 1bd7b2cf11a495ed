package simulator

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/eventlog"
)

// Boot-time event types recorded for registers 0..2.
const (
	evEFIPlatformFirmwareBlob uint32 = 0x80000008
	evEFIBootServicesApp      uint32 = 0x80000003
	evIPL                     uint32 = 0x0000000d
)

// machine holds the software measurement registers and the log that
// produced them.
type machine struct {
	mu    sync.Mutex
	mrtd  []byte
	rtmrs [eventlog.RegisterCount][]byte
	log   []eventlog.Entry
}

func newMachine(mrtd []byte) *machine {
	m := &machine{mrtd: mrtd}
	for i := range m.rtmrs {
		m.rtmrs[i] = eventlog.InitialValue()
	}
	return m
}

// extend folds digest into imr and appends the log entry in one step.
func (m *machine) extend(e eventlog.Entry, digest []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtmrs[e.IMR] = eventlog.Extend(m.rtmrs[e.IMR], digest)
	m.log = append(m.log, e)
}

// measure records a boot component by the SHA-384 of its name and payload.
func (m *machine) measure(imr int, eventType uint32, name string, payload []byte) {
	h := sha512.New384()
	h.Write([]byte(name))
	h.Write(payload)
	digest := h.Sum(nil)
	m.extend(eventlog.Entry{
		IMR:          imr,
		Digest:       hex.EncodeToString(digest),
		EventType:    eventlog.EventType(fmt.Sprint(eventType)),
		Event:        name,
		EventPayload: hex.EncodeToString(payload),
	}, digest)
}

// emit records a runtime event on RTMR3 exactly as the guest agent does.
func (m *machine) emit(name string, payload []byte) eventlog.Entry {
	e := eventlog.RuntimeEntry(name, payload)
	m.extend(e, eventlog.Digest(eventlog.RuntimeEventType, name, payload))
	return e
}

type snapshot struct {
	MRTD     []byte
	RTMRs    [eventlog.RegisterCount][]byte
	EventLog []eventlog.Entry
}

// snapshot copies registers and log under one lock so they always agree.
func (m *machine) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{MRTD: append([]byte(nil), m.mrtd...)}
	for i, r := range m.rtmrs {
		s.RTMRs[i] = append([]byte(nil), r...)
	}
	s.EventLog = append([]eventlog.Entry(nil), m.log...)
	return s
}

func (s snapshot) quote(reportData []byte) []byte {
	return attestation.UnsignedQuote(s.MRTD, s.RTMRs, reportData)
}

func (s snapshot) eventLogJSON() (string, error) {
	entries := s.EventLog
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal event log: %w", err)
	}
	return string(b), nil
}

func (s snapshot) rtmrHex(i int) string {
	return hex.EncodeToString(s.RTMRs[i])
}
