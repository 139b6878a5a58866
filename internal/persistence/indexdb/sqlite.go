// Package indexdb keeps a queryable history of instance lifecycles in
// SQLite. Writes are enqueued and applied by a single writer goroutine so
// the traversal path never blocks on the database.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteJournal struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqCreated reqKind = iota + 1
	reqRoom
	reqDissolved
	reqEviction
)

type req struct {
	kind reqKind

	instanceID string
	direction  string
	x, y       int
	depth      int
	reason     string
	rooms      int
	agent      string
	at         string
}

func OpenSQLite(path string) (*SQLiteJournal, error) {
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

	s := &SQLiteJournal{
		db: db,
		// Buffer sized for bursty materialization (a party sprinting through
		// fresh rooms) without stalling traversal.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			created_at TEXT NOT NULL,
			dissolved_at TEXT,
			dissolve_reason TEXT,
			rooms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			instance_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			materialized_at TEXT NOT NULL,
			PRIMARY KEY (instance_id, x, y)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_depth ON rooms(instance_id, depth);`,
		`CREATE TABLE IF NOT EXISTS evictions (
			instance_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			evicted_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evictions_agent ON evictions(agent);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

// Close drains the queue, commits, and closes the database.
func (s *SQLiteJournal) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteJournal) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	r.at = time.Now().UTC().Format(time.RFC3339Nano)
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the journal is a secondary index,
		// not the source of truth.
	}
}

func (s *SQLiteJournal) InstanceCreated(id, direction string) {
	s.enqueue(req{kind: reqCreated, instanceID: id, direction: direction})
}

func (s *SQLiteJournal) RoomMaterialized(id string, x, y, depth int) {
	s.enqueue(req{kind: reqRoom, instanceID: id, x: x, y: y, depth: depth})
}

func (s *SQLiteJournal) InstanceDissolved(id, reason string, rooms int) {
	s.enqueue(req{kind: reqDissolved, instanceID: id, reason: reason, rooms: rooms})
}

func (s *SQLiteJournal) Eviction(instanceID, agent string) {
	s.enqueue(req{kind: reqEviction, instanceID: instanceID, agent: agent})
}

func (s *SQLiteJournal) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertInstance, _ := s.db.Prepare(`INSERT OR REPLACE INTO instances(id,direction,created_at) VALUES(?,?,?)`)
	insertRoom, _ := s.db.Prepare(`INSERT OR REPLACE INTO rooms(instance_id,x,y,depth,materialized_at) VALUES(?,?,?,?,?)`)
	markDissolved, _ := s.db.Prepare(`UPDATE instances SET dissolved_at=?, dissolve_reason=?, rooms=? WHERE id=?`)
	insertEviction, _ := s.db.Prepare(`INSERT INTO evictions(instance_id,agent,evicted_at) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertInstance, insertRoom, markDissolved, insertEviction} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqCreated:
			if insertInstance != nil {
				_, err = tx.Stmt(insertInstance).Exec(r.instanceID, r.direction, r.at)
			}
		case reqRoom:
			if insertRoom != nil {
				_, err = tx.Stmt(insertRoom).Exec(r.instanceID, r.x, r.y, r.depth, r.at)
			}
		case reqDissolved:
			if markDissolved != nil {
				_, err = tx.Stmt(markDissolved).Exec(r.at, r.reason, r.rooms, r.instanceID)
			}
		case reqEviction:
			if insertEviction != nil {
				_, err = tx.Stmt(insertEviction).Exec(r.instanceID, r.agent, r.at)
			}
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
