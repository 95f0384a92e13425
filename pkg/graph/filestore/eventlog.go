// Package filestore implements [graph.GraphStore] over a directory of plain
// files: an append-only JSONL event log, a cached snapshot, a cached index,
// and a best-effort markdown view — one store per directory.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/memorybank/contextgraph/pkg/graph"
)

const (
	logFileName      = "graph.jsonl"
	snapshotFileName = "graph.snapshot.json"
	indexFileName    = "graph.index.json"
	markdownFileName = "graph.md"
	lockFileName     = "graph.lock"
)

// EventLog is the JSONL-backed implementation of [graph.EventLog]. Every
// Append validates the marker invariant and writes via a temp-file-plus-
// rename so a crash mid-write never leaves a half-written record on disk.
// A [flock.Flock] file lock serializes access across processes; an
// in-process caller still needs its own synchronization if it shares one
// EventLog across goroutines without going through [Backend].
type EventLog struct {
	dir  string
	lock *flock.Flock
}

// NewEventLog returns an EventLog rooted at dir. dir must already exist.
func NewEventLog(dir string) *EventLog {
	return &EventLog{dir: dir, lock: flock.New(filepath.Join(dir, lockFileName))}
}

func (l *EventLog) path() string { return filepath.Join(l.dir, logFileName) }

// Append validates that the log already carries a marker (or that this is
// the very first record and is itself a marker), then appends event as one
// JSON line. The whole file is read, the line appended in memory, and the
// result written to a temp file and renamed over the original — stronger
// than a bare O_APPEND write, since it also lets us reject a missing or
// corrupt marker before commit.
func (l *EventLog) Append(ctx context.Context, event graph.GraphEvent) error {
	if err := l.lock.Lock(); err != nil {
		return graph.NewStoreError("append", graph.KindIoError, fmt.Errorf("acquire lock: %w", err))
	}
	defer l.lock.Unlock()

	events, err := l.readAllLocked()
	if err != nil {
		return err
	}

	if len(events) == 0 {
		if event.Type != graph.EventMarker || !graph.IsGraphEvent(event) {
			return graph.NewStoreError("append", graph.KindMarkerMismatch, fmt.Errorf("first record must be a valid marker"))
		}
	} else if events[0].Type != graph.EventMarker || !graph.IsGraphEvent(events[0]) {
		return graph.NewStoreError("append", graph.KindMarkerMismatch, fmt.Errorf("existing log marker is missing or invalid"))
	}

	events = append(events, event)
	return l.writeAllLocked(events)
}

// ReadAll returns every event in the log, in append order. Malformed lines
// are skipped rather than causing a read failure.
func (l *EventLog) ReadAll(ctx context.Context) ([]graph.GraphEvent, error) {
	if err := l.lock.RLock(); err != nil {
		return nil, graph.NewStoreError("readAll", graph.KindIoError, fmt.Errorf("acquire lock: %w", err))
	}
	defer l.lock.Unlock()
	return l.readAllLocked()
}

func (l *EventLog) readAllLocked() ([]graph.GraphEvent, error) {
	f, err := os.Open(l.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, graph.NewStoreError("readAll", graph.KindIoError, err)
	}
	defer f.Close()

	var events []graph.GraphEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		e, ok := graph.ParseEvent(line)
		if !ok {
			slog.Default().Warn("filestore: skipping malformed event record", "raw", string(line))
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, graph.NewStoreError("readAll", graph.KindIoError, err)
	}
	return events, nil
}

// TruncateAndReplace atomically rewrites the log with events, used only by
// compaction.
func (l *EventLog) TruncateAndReplace(ctx context.Context, events []graph.GraphEvent) error {
	if err := l.lock.Lock(); err != nil {
		return graph.NewStoreError("compact", graph.KindIoError, fmt.Errorf("acquire lock: %w", err))
	}
	defer l.lock.Unlock()
	return l.writeAllLocked(events)
}

func (l *EventLog) writeAllLocked(events []graph.GraphEvent) error {
	tmp, err := os.CreateTemp(l.dir, logFileName+".tmp-*")
	if err != nil {
		return graph.NewStoreError("append", graph.KindIoError, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return graph.NewStoreError("append", graph.KindIoError, err)
		}
		if _, err := w.Write(b); err != nil {
			tmp.Close()
			return graph.NewStoreError("append", graph.KindIoError, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			return graph.NewStoreError("append", graph.KindIoError, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return graph.NewStoreError("append", graph.KindIoError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return graph.NewStoreError("append", graph.KindIoError, err)
	}
	if err := tmp.Close(); err != nil {
		return graph.NewStoreError("append", graph.KindIoError, err)
	}
	if err := os.Rename(tmpName, l.path()); err != nil {
		return graph.NewStoreError("append", graph.KindIoError, err)
	}
	return nil
}

// Generation returns an opaque tag that changes whenever the log's content
// changes: the file's size and modification time, which is cheap to stat
// and sufficient since every mutation rewrites the whole file.
func (l *EventLog) Generation(ctx context.Context) (string, error) {
	info, err := os.Stat(l.path())
	if os.IsNotExist(err) {
		return "empty", nil
	}
	if err != nil {
		return "", graph.NewStoreError("generation", graph.KindIoError, err)
	}
	return strconv.FormatInt(info.Size(), 10) + "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}

var _ graph.EventLog = (*EventLog)(nil)
