package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// GenesisHash is the chain hash that precedes sequence number 0.
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// canonicalEvent fixes the key order of the hashed form.
type canonicalEvent struct {
	SequenceNumber uint64          `json:"sequence_number"`
	Timestamp      string          `json:"timestamp"`
	EventType      EventType       `json:"event_type"`
	ActorID        *string         `json:"actor_id"`
	CorrelationID  string          `json:"correlation_id"`
	Outcome        Outcome         `json:"outcome"`
	Payload        json.RawMessage `json:"payload"`
}

// CanonicalBytes is the exact byte string hashed into event_hash.
func CanonicalBytes(e Event) ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return marshalCompact(canonicalEvent{
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:      e.EventType,
		ActorID:        e.ActorID,
		CorrelationID:  e.CorrelationID,
		Outcome:        e.Outcome,
		Payload:        payload,
	})
}

// EventHash returns hex(sha256(canonical bytes)).
func EventHash(e Event) (string, error) {
	b, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links an event hash to the previous chain hash.
func ChainHash(eventHash, prevChainHash string) string {
	sum := sha256.Sum256([]byte(eventHash + prevChainHash))
	return hex.EncodeToString(sum[:])
}

// seal assigns the sequence number and both hashes.
func seal(e Event, seq uint64, prevChainHash string) (Event, error) {
	e.SequenceNumber = seq
	eh, err := EventHash(e)
	if err != nil {
		return Event{}, err
	}
	e.EventHash = eh
	e.ChainHash = ChainHash(eh, prevChainHash)
	return e, nil
}

// CanonicalPayload encodes a payload object with sorted keys and without
// HTML escaping so the bytes survive storage round trips unchanged.
func CanonicalPayload(payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := marshalCompact(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// MarshalLine encodes an event as one JSONL record, without trailing newline.
func MarshalLine(e Event) ([]byte, error) {
	return marshalCompact(e)
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ChainVerifier recomputes a chain incrementally. Feed events in ascending
// sequence order; a skipped sequence number counts as a mismatch. Once any
// index mismatches, every later index is reported too, whichever stored
// field was altered.
type ChainVerifier struct {
	prev    string
	next    uint64
	tainted bool
	flagged map[uint64]struct{}
	report  VerifyReport
}

// NewChainVerifier starts at sequence from with the stored chain hash of
// from-1 (GenesisHash when from is 0).
func NewChainVerifier(from uint64, prevChainHash string) *ChainVerifier {
	return &ChainVerifier{
		prev:    prevChainHash,
		next:    from,
		flagged: map[uint64]struct{}{},
		report:  VerifyReport{From: from, To: from, Valid: true},
	}
}

func (v *ChainVerifier) Check(e Event) {
	if e.SequenceNumber < v.next {
		// duplicate or out of order
		v.mismatch(e.SequenceNumber)
		v.report.Checked++
		return
	}
	for v.next < e.SequenceNumber {
		v.mismatch(v.next)
		v.next++
	}
	eh, err := EventHash(e)
	chain := ChainHash(eh, v.prev)
	if v.tainted || err != nil || eh != e.EventHash || chain != e.ChainHash {
		v.mismatch(e.SequenceNumber)
	}
	v.prev = chain
	v.report.Checked++
	v.next = e.SequenceNumber + 1
}

// Finish closes the range at end (exclusive); missing tail events are gaps.
func (v *ChainVerifier) Finish(end uint64) VerifyReport {
	for v.next < end {
		v.mismatch(v.next)
		v.next++
	}
	v.report.To = v.next
	return v.report
}

func (v *ChainVerifier) mismatch(seq uint64) {
	v.tainted = true
	if _, ok := v.flagged[seq]; ok {
		return
	}
	v.flagged[seq] = struct{}{}
	if v.report.FirstMismatch == nil {
		first := seq
		v.report.FirstMismatch = &first
	}
	v.report.Mismatches = append(v.report.Mismatches, seq)
	v.report.Valid = false
}
