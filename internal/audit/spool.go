package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Spool is the local degraded-mode file. Entries are unsealed events written
// one per line and fsynced before Append returns.
type Spool struct {
	path string
	mu   sync.Mutex
}

func NewSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{path: path}, nil
}

// Append durably writes events in order.
func (s *Spool) Append(events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := MarshalLine(e)
		if err != nil {
			return fmt.Errorf("encode spool entry: %w", err)
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write spool: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync spool: %w", err)
	}
	return nil
}

// Drain hands every spooled entry, in write order, to fn, which reports how
// many it consumed. Consumed entries are removed and the rest stay for the
// next attempt. fn runs without the lock so Append never waits on it;
// entries appended meanwhile are kept.
func (s *Spool) Drain(fn func([]Event) (int, error)) error {
	s.mu.Lock()
	events, err := s.read()
	s.mu.Unlock()
	if err != nil || len(events) == 0 {
		return err
	}

	consumed, fnErr := fn(events)
	if consumed == 0 {
		return fnErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.read()
	if err != nil {
		return errors.Join(fnErr, err)
	}
	if consumed > len(current) {
		consumed = len(current)
	}
	if consumed == len(current) {
		if err := os.Truncate(s.path, 0); err != nil {
			return errors.Join(fnErr, fmt.Errorf("truncate spool: %w", err))
		}
		return fnErr
	}
	if err := s.rewrite(current[consumed:]); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// rewrite replaces the spool with events via a synced temp file and rename.
func (s *Spool) rewrite(events []Event) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("open spool temp: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := MarshalLine(e)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("encode spool entry: %w", err)
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write spool temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync spool temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close spool temp: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Len reports how many entries are waiting.
func (s *Spool) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.read()
	return len(events), err
}

func (s *Spool) read() ([]Event, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var e Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode spool entry %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}
