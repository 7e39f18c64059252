// Package jsonl persists the audit chain as JSON Lines segment files.
//
// Each segment holds one event per line in the published format. A new
// segment is started when the rotation interval rolls over; the chain
// continues across segments and segments are never truncated or rewritten.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"trustcore/internal/audit"
	"trustcore/pkg/platform/sentinel"
)

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"
	segmentLayout = "20060102T150405Z"
)

// Store appends to the current segment and fsyncs every write.
type Store struct {
	dir      string
	interval time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	file    *os.File
	segment string
	last    *audit.Event
}

type Option func(*Store)

// WithClock sets the clock used to pick segments.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open prepares dir and loads the chain head from the newest segment.
func Open(dir string, rotateInterval time.Duration, opts ...Option) (*Store, error) {
	if rotateInterval <= 0 {
		rotateInterval = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	s := &Store{dir: dir, interval: rotateInterval, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	segments, err := Segments(dir)
	if err != nil {
		return nil, err
	}
	for i := len(segments) - 1; i >= 0 && s.last == nil; i-- {
		events, err := ReadSegment(segments[i])
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			last := events[len(events)-1]
			s.last = &last
		}
	}
	if len(segments) > 0 {
		s.segment = filepath.Base(segments[len(segments)-1])
	}
	return s, nil
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && event.SequenceNumber <= s.last.SequenceNumber {
		if event.SequenceNumber == s.last.SequenceNumber && event.ChainHash == s.last.ChainHash {
			return nil
		}
		return fmt.Errorf("append sequence %d after %d: %w", event.SequenceNumber, s.last.SequenceNumber, sentinel.ErrConflict)
	}

	if err := s.rotate(); err != nil {
		return err
	}
	line, err := audit.MarshalLine(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write audit segment: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync audit segment: %w", err)
	}
	s.last = &event
	return nil
}

// rotate opens the segment for the current interval. Segment names only
// move forward, even if the clock steps back.
func (s *Store) rotate() error {
	name := segmentPrefix + s.clock().UTC().Truncate(s.interval).Format(segmentLayout) + segmentSuffix
	if name < s.segment {
		name = s.segment
	}
	if s.file != nil && name == s.segment {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open audit segment: %w", err)
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	s.segment = name
	return nil
}

func (s *Store) Last(_ context.Context) (*audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, sentinel.ErrNotFound
	}
	last := *s.last
	return &last, nil
}

func (s *Store) Range(_ context.Context, from, to uint64) ([]audit.Event, error) {
	var out []audit.Event
	err := s.scan(func(e audit.Event) bool {
		if e.SequenceNumber >= from && (to == 0 || e.SequenceNumber < to) {
			out = append(out, e)
		}
		return to == 0 || e.SequenceNumber+1 < to
	})
	return out, err
}

func (s *Store) ByCorrelation(_ context.Context, correlationID string) ([]audit.Event, error) {
	var out []audit.Event
	err := s.scan(func(e audit.Event) bool {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
		return true
	})
	return out, err
}

// scan walks every segment in order until fn returns false.
func (s *Store) scan(fn func(audit.Event) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := Segments(s.dir)
	if err != nil {
		return err
	}
	for _, path := range segments {
		events, err := ReadSegment(path)
		if err != nil {
			return err
		}
		for _, e := range events {
			if !fn(e) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Segments lists segment files in dir in chain order.
func Segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	slices.Sort(out)
	return out, nil
}

// ReadSegment decodes every event of one segment file.
func ReadSegment(path string) ([]audit.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit segment: %w", err)
	}
	defer f.Close()

	var events []audit.Event
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var e audit.Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode %s record %d: %w", filepath.Base(path), len(events), err)
		}
		events = append(events, e)
	}
}
