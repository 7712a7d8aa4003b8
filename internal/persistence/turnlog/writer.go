// Package turnlog keeps a compressed JSONL record of every join and turn, one file per UTC hour.
package turnlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"zombidef.ai/internal/scheduler"
)

const (
	Prefix = "turns"
	Suffix = ".jsonl.zst"

	hourLayout = "2006-01-02-15"
)

// FileName is the turn log name for the UTC hour containing t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s-%s%s", Prefix, t.UTC().Format(hourLayout), Suffix)
}

// Entry is one line of the turn log. Exactly one of Join and Turn is set.
type Entry struct {
	Kind string                `json:"kind"`
	Join *scheduler.JoinRecord `json:"join,omitempty"`
	Turn *scheduler.TurnRecord `json:"turn,omitempty"`
}

const (
	KindJoin = "join"
	KindTurn = "turn"
)

// segment is one open turn log file. Every appended line ends its own zstd block, so a
// reader sees it immediately and a crash loses nothing already appended.
type segment struct {
	path string
	f    *os.File
	enc  *zstd.Encoder
}

func openSegment(path string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{path: path, f: f, enc: enc}, nil
}

func (s *segment) append(line []byte) error {
	if _, err := s.enc.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.enc.Flush()
}

func (s *segment) close() error {
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Logger records joins and turns into the file for the current hour. Write failures are
// logged and otherwise ignored; the turn loop never waits on the log.
type Logger struct {
	dir string
	log *log.Logger
	now func() time.Time

	mu  sync.Mutex
	cur *segment
}

var _ scheduler.Recorder = (*Logger)(nil)

func NewLogger(dir string, logger *log.Logger) *Logger {
	return &Logger{dir: dir, log: logger, now: time.Now}
}

func (l *Logger) RecordJoin(r scheduler.JoinRecord) {
	l.record(Entry{Kind: KindJoin, Join: &r})
}

func (l *Logger) RecordTurn(r scheduler.TurnRecord) {
	l.record(Entry{Kind: KindTurn, Turn: &r})
}

func (l *Logger) record(e Entry) {
	if err := l.Write(e); err != nil && l.log != nil {
		l.log.Printf("turnlog: write %s: %v", e.Kind, err)
	}
}

// Write appends e to the current hour's file, switching files when the hour changes.
func (l *Logger) Write(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, FileName(l.now()))
	if l.cur == nil || l.cur.path != path {
		if l.cur != nil {
			prev := l.cur.path
			if err := l.closeLocked(); err != nil && l.log != nil {
				l.log.Printf("turnlog: close %s: %v", filepath.Base(prev), err)
			}
		}
		seg, err := openSegment(path)
		if err != nil {
			return err
		}
		l.cur = seg
	}
	return l.cur.append(b)
}

// Prune deletes all but the newest keep files, never the one currently open.
func (l *Logger) Prune(keep int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := ""
	if l.cur != nil {
		open = l.cur.path
	}
	return prune(l.dir, keep, open)
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Logger) closeLocked() error {
	if l.cur == nil {
		return nil
	}
	err := l.cur.close()
	l.cur = nil
	return err
}
