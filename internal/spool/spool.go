// Package spool stages collected audit records on disk until the
// archive confirms them. A collection pulled from the NAS is written
// here first; once the DuckDB insert succeeds the records are
// committed and reclaimed at the next open. Records that never commit
// (crash, archive failure) are replayed into the archive on startup,
// so a pull is not lost even though the NAS has since rotated the log.
package spool

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dsmaudit/dsmaudit/internal/audit"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Record is one archived row in transit, flat enough to survive a
// JSON round-trip without loss.
type Record struct {
	RunID    string `json:"run_id"`
	Source   string `json:"source"`
	Severity string `json:"severity,omitempty"`
	Time     string `json:"time"`
	User     string `json:"user"`
	IP       string `json:"ip,omitempty"`
	Event    string `json:"event"`
	Kind     string `json:"kind,omitempty"`
	Size     string `json:"size,omitempty"`
	Name     string `json:"name,omitempty"`
}

// FromSystem stages a normalized system event under a run.
func FromSystem(runID string, e audit.SystemEntry) Record {
	return Record{
		RunID:    runID,
		Source:   e.Source,
		Severity: e.Severity,
		Time:     e.Time,
		User:     e.User,
		Event:    e.Event,
	}
}

// FromFile stages a normalized File Station event under a run.
func FromFile(runID string, e audit.FileEntry) Record {
	return Record{
		RunID:  runID,
		Source: e.Source,
		Time:   e.Time,
		User:   e.User,
		IP:     e.IP,
		Event:  e.Event,
		Kind:   e.Kind,
		Size:   e.Size,
		Name:   e.Name,
	}
}

// SystemEntry rebuilds the aggregator shape for archive replay.
func (r Record) SystemEntry() audit.SystemEntry {
	return audit.SystemEntry{
		Severity: r.Severity,
		Source:   r.Source,
		Time:     r.Time,
		User:     r.User,
		Event:    r.Event,
	}
}

// FileEntry rebuilds the aggregator shape for archive replay.
func (r Record) FileEntry() audit.FileEntry {
	return audit.FileEntry{
		Source: r.Source,
		Time:   r.Time,
		IP:     r.IP,
		User:   r.User,
		Event:  r.Event,
		Kind:   r.Kind,
		Size:   r.Size,
		Name:   r.Name,
	}
}

type entry struct {
	Seq    uint64 `json:"seq"`
	Record Record `json:"record"`
}

// Spool is a durable append-only staging file. One JSON entry per
// line; commit progress lives in a sidecar file.
type Spool struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens a spool at path. On startup it compacts
// committed entries away and ignores a partially written trailing
// line.
func Open(path string) (*Spool, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("spool: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("spool: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compactCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("spool: open: %w", err)
	}

	next := maxSeq + 1
	if committed+1 > next {
		next = committed + 1
	}

	return &Spool{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    next,
		committed:  committed,
	}, nil
}

// Append persists one record and returns its sequence number.
func (s *Spool) Append(rec Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.writeLocked(rec)
	if err != nil {
		return 0, err
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("spool: sync entry: %w", err)
	}
	return seq, nil
}

// AppendBatch persists a whole collection with a single sync and
// returns the last sequence number. An empty batch returns the
// current high-water mark.
func (s *Spool) AppendBatch(recs []Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.nextSeq - 1
	for _, rec := range recs {
		seq, err := s.writeLocked(rec)
		if err != nil {
			return 0, err
		}
		last = seq
	}
	if len(recs) > 0 {
		if err := s.file.Sync(); err != nil {
			return 0, fmt.Errorf("spool: sync batch: %w", err)
		}
	}
	return last, nil
}

func (s *Spool) writeLocked(rec Record) (uint64, error) {
	seq := s.nextSeq
	s.nextSeq++

	line, err := json.Marshal(entry{Seq: seq, Record: rec})
	if err != nil {
		return 0, fmt.Errorf("spool: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		return 0, fmt.Errorf("spool: write entry: %w", err)
	}
	return seq, nil
}

// Commit marks all entries up to seq as durably archived.
func (s *Spool) Commit(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.committed {
		return nil
	}
	s.committed = seq
	return writeCommitted(s.commitPath, seq)
}

// Committed returns the highest committed sequence number.
func (s *Spool) Committed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Replay calls fn for each uncommitted entry in sequence order.
func (s *Spool) Replay(fn func(seq uint64, rec Record) error) error {
	if fn == nil {
		return errors.New("spool: replay callback is nil")
	}

	s.mu.Lock()
	path := s.path
	committed := s.committed
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("spool: open for replay: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("spool: replay read: %w", err)
		}
		if len(line) == 0 {
			if errors.Is(err, io.EOF) {
				return nil
			}
			continue
		}
		if !strings.HasSuffix(string(line), "\n") {
			// Ignore a potentially partial trailing line.
			return nil
		}

		var e entry
		if uerr := json.Unmarshal(line, &e); uerr != nil {
			// Stop at the first malformed line and keep replay deterministic.
			return nil
		}
		if e.Seq > committed {
			if rerr := fn(e.Seq, e.Record); rerr != nil {
				return rerr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// Close closes the underlying spool file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("spool: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("spool: parse commit seq: %w", err)
	}
	return seq, nil
}

func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	payload := []byte(strconv.FormatUint(seq, 10) + "\n")
	if err := os.WriteFile(tmp, payload, defaultFileMode); err != nil {
		return fmt.Errorf("spool: write commit tmp: %w", err)
	}

	f, err := os.OpenFile(tmp, os.O_RDWR, defaultFileMode)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: open commit tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: sync commit tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: close commit tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: rename commit file: %w", err)
	}
	return nil
}

// compactCommitted rewrites the spool keeping only uncommitted
// entries, returning the highest sequence seen.
func compactCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("spool: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("spool: open compact tmp: %w", err)
	}

	reader := bufio.NewReader(src)
	var maxSeq uint64

	for {
		line, rerr := reader.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
			return 0, fmt.Errorf("spool: compact read: %w", rerr)
		}
		if len(line) == 0 {
			if errors.Is(rerr, io.EOF) {
				break
			}
			continue
		}
		if !strings.HasSuffix(string(line), "\n") {
			// Ignore potentially partial trailing line.
			break
		}

		var e entry
		if uerr := json.Unmarshal(line, &e); uerr != nil {
			break
		}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		if e.Seq > committed {
			if _, werr := dst.Write(line); werr != nil {
				_ = dst.Close()
				_ = os.Remove(tmpPath)
				return 0, fmt.Errorf("spool: compact write: %w", werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
	}

	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("spool: compact sync: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("spool: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("spool: compact rename: %w", err)
	}
	return maxSeq, nil
}
