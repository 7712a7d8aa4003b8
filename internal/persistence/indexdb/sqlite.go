// Package indexdb keeps a queryable SQLite index of joined rounds and played turns.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"zombidef.ai/internal/scheduler"
)

type SQLiteIndex struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropJoin  atomic.Uint64
	dropTurn  atomic.Uint64
	writeErrs atomic.Uint64
}

var _ scheduler.Recorder = (*SQLiteIndex)(nil)

// Fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000Z"

type reqKind int

const (
	reqJoin reqKind = iota + 1
	reqTurn
)

type req struct {
	kind reqKind
	join scheduler.JoinRecord
	turn scheduler.TurnRecord
}

// Stats reports queue pressure; drops happen only when the writer falls behind.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropJoinTotal uint64 `json:"drop_join_total"`
	DropTurnTotal uint64 `json:"drop_turn_total"`
	WriteErrTotal uint64 `json:"write_err_total"`
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan req, 1024),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			name TEXT PRIMARY KEY,
			joined_at TEXT NOT NULL,
			starts_in_sec INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			round TEXT NOT NULL,
			turn INTEGER NOT NULL,
			fetched_at TEXT NOT NULL,
			gold INTEGER NOT NULL,
			points INTEGER NOT NULL,
			structures INTEGER NOT NULL,
			zombies INTEGER NOT NULL,
			enemies INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			planned_build INTEGER NOT NULL,
			planned_attack INTEGER NOT NULL,
			accepted_build INTEGER NOT NULL,
			accepted_attack INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			submit_error TEXT,
			errors_json TEXT NOT NULL,
			PRIMARY KEY (round, turn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_fetched_at ON turns(fetched_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordJoin(r scheduler.JoinRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqJoin, join: r}:
	default:
		s.dropJoin.Add(1)
	}
}

func (s *SQLiteIndex) RecordTurn(r scheduler.TurnRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTurn, turn: r}:
	default:
		// The turn log stays complete; the index may skip a turn under pressure.
		s.dropTurn.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropJoinTotal: s.dropJoin.Load(),
		DropTurnTotal: s.dropTurn.Load(),
		WriteErrTotal: s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(name,joined_at,starts_in_sec) VALUES(?,?,?)`)
	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(round,turn,fetched_at,gold,points,structures,zombies,enemies,candidates,planned_build,planned_attack,accepted_build,accepted_attack,rejected,skipped,submit_error,errors_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertRound != nil {
			_ = insertRound.Close()
		}
		if insertTurn != nil {
			_ = insertTurn.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.fail("begin", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.fail("commit", err)
		}
		tx = nil
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqJoin:
			if insertRound == nil {
				err = fmt.Errorf("rounds statement not prepared")
				break
			}
			_, err = tx.Stmt(insertRound).Exec(r.join.Round, r.join.JoinedAt.UTC().Format(timeLayout), r.join.StartsIn)
		case reqTurn:
			if insertTurn == nil {
				err = fmt.Errorf("turns statement not prepared")
				break
			}
			t := r.turn
			errs, _ := json.Marshal(t.Errors)
			var submitErr any
			if t.SubmitError != "" {
				submitErr = t.SubmitError
			}
			_, err = tx.Stmt(insertTurn).Exec(t.Round, t.Turn, t.FetchedAt.UTC().Format(timeLayout),
				t.Gold, t.Points, t.Structures, t.Zombies, t.Enemies, t.Candidates,
				t.PlannedBuild, t.PlannedAttack, t.AcceptedBuild, t.AcceptedAttack,
				t.Rejected(), boolInt(t.Skipped), submitErr, string(errs))
		}
		if err != nil {
			s.fail("insert", err)
		}
		// Batch whatever arrived together; commit once the queue is drained.
		if len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func (s *SQLiteIndex) fail(op string, err error) {
	s.writeErrs.Add(1)
	if s.log != nil {
		s.log.Printf("indexdb: %s: %v", op, err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RoundSummary aggregates the indexed turns of one round.
type RoundSummary struct {
	Round         string `json:"round"`
	JoinedAt      string `json:"joined_at,omitempty"`
	Turns         int    `json:"turns"`
	LastTurn      int    `json:"last_turn"`
	Points        int    `json:"points"`
	AcceptedBuild int    `json:"accepted_build"`
	Rejected      int    `json:"rejected"`
}

// Rounds lists indexed rounds, most recently played first.
func (s *SQLiteIndex) Rounds(ctx context.Context, limit int) ([]RoundSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.round, COALESCE(r.joined_at, ''), COUNT(*), MAX(t.turn), MAX(t.points),
			SUM(t.accepted_build), SUM(t.rejected)
		FROM turns t LEFT JOIN rounds r ON r.name = t.round
		GROUP BY t.round
		ORDER BY MAX(t.fetched_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundSummary
	for rows.Next() {
		var rs RoundSummary
		if err := rows.Scan(&rs.Round, &rs.JoinedAt, &rs.Turns, &rs.LastTurn, &rs.Points, &rs.AcceptedBuild, &rs.Rejected); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
