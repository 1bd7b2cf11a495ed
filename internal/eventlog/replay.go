package eventlog

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RegisterCount is the number of runtime measurement registers.
const RegisterCount = 4

// RegisterSize is the SHA-384 output width every register and padded digest
// is held at.
const RegisterSize = sha512.Size384

// RuntimeEventType marks entries appended by EmitEvent on register 3.
const RuntimeEventType uint32 = 0x08000001

// RuntimeIMR is the register runtime events extend.
const RuntimeIMR = 3

var ErrReplay = errors.New("replay event log")

// ReplayError identifies the entry whose digest could not be used.
type ReplayError struct {
	Register int
	Index    int
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay rtmr%d: entry %d: %v", e.Register, e.Index, e.Err)
}

func (e *ReplayError) Unwrap() []error {
	return []error{ErrReplay, e.Err}
}

// InitialValue returns the all-zero register a replay starts from.
func InitialValue() []byte {
	return make([]byte, RegisterSize)
}

// Extend folds one digest into acc: SHA-384(acc || digest), with digest
// right-padded with zeros to 48 bytes. Digests longer than 48 bytes are used
// as is.
func Extend(acc, digest []byte) []byte {
	padded := digest
	if len(padded) < RegisterSize {
		padded = make([]byte, RegisterSize)
		copy(padded, digest)
	}
	h := sha512.New384()
	h.Write(acc)
	h.Write(padded)
	return h.Sum(nil)
}

// ReplayRegister recomputes a single register from the entries that target
// it, in log order.
func ReplayRegister(entries []Entry, register int) ([]byte, error) {
	acc := InitialValue()
	for i, e := range entries {
		if e.IMR != register {
			continue
		}
		digest, err := hex.DecodeString(strings.TrimSpace(e.Digest))
		if err != nil {
			return nil, &ReplayError{Register: register, Index: i, Err: fmt.Errorf("digest is not hex: %w", err)}
		}
		acc = Extend(acc, digest)
	}
	return acc, nil
}

// Replay recomputes registers 0..3 and returns them as lowercase hex keyed
// by index. Entries whose register is outside that range do not contribute.
func Replay(entries []Entry) (map[int]string, error) {
	out := make(map[int]string, RegisterCount)
	for r := 0; r < RegisterCount; r++ {
		v, err := ReplayRegister(entries, r)
		if err != nil {
			return nil, err
		}
		out[r] = hex.EncodeToString(v)
	}
	return out, nil
}

// OutOfRange reports the indices of entries whose register Replay ignores.
func OutOfRange(entries []Entry) []int {
	var idx []int
	for i, e := range entries {
		if e.IMR < 0 || e.IMR >= RegisterCount {
			idx = append(idx, i)
		}
	}
	return idx
}

// Digest computes the measurement of a runtime event:
// SHA-384(le32(eventType) || ":" || name || ":" || payload).
func Digest(eventType uint32, name string, payload []byte) []byte {
	var typ [4]byte
	binary.LittleEndian.PutUint32(typ[:], eventType)
	h := sha512.New384()
	h.Write(typ[:])
	h.Write([]byte(":"))
	h.Write([]byte(name))
	h.Write([]byte(":"))
	h.Write(payload)
	return h.Sum(nil)
}

// RuntimeEntry builds the log entry a daemon records for EmitEvent.
func RuntimeEntry(name string, payload []byte) Entry {
	return Entry{
		IMR:          RuntimeIMR,
		Digest:       hex.EncodeToString(Digest(RuntimeEventType, name, payload)),
		EventType:    EventType(fmt.Sprint(RuntimeEventType)),
		Event:        name,
		EventPayload: hex.EncodeToString(payload),
	}
}
