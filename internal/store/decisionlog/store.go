// Package decisionlog 持久化每轮裁决与后续结果，方便离线复盘。
// 写入是尽力而为：日志失败不阻断交易主流程。
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/persona"

	_ "modernc.org/sqlite"
)

// DecisionRecord 是一轮裁决的完整留痕，投票原样入库。
type DecisionRecord struct {
	ID         int64          `json:"id"`
	Timestamp  int64          `json:"ts"`
	Symbol     string         `json:"symbol"`
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Regime     string         `json:"regime"`
	LongScore  float64        `json:"long_score"`
	ShortScore float64        `json:"short_score"`
	Executed   bool           `json:"executed"`
	Votes      []persona.Vote `json:"votes,omitempty"`
}

// OutcomeRecord 把平仓结果挂回产生它的那条裁决。
type OutcomeRecord struct {
	ID         int64   `json:"id"`
	DecisionID int64   `json:"decision_id"`
	Timestamp  int64   `json:"ts"`
	Symbol     string  `json:"symbol"`
	ExitReason string  `json:"exit_reason"`
	PnLUSD     float64 `json:"pnl_usd"`
	PnLPct     float64 `json:"pnl_pct"`
	HeldHours  float64 `json:"held_hours"`
}

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decisionlog: 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("decisionlog: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL,
			reasoning TEXT,
			regime TEXT,
			long_score REAL,
			short_score REAL,
			executed INTEGER NOT NULL DEFAULT 0,
			votes_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions(symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			decision_id INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			exit_reason TEXT,
			pnl_usd REAL,
			pnl_pct REAL,
			held_hours REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_decision ON outcomes(decision_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("decisionlog: schema: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertDecision(ctx context.Context, rec DecisionRecord) (int64, error) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	votes, err := json.Marshal(rec.Votes)
	if err != nil {
		votes = []byte("[]")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (ts, symbol, action, confidence, reasoning, regime, long_score, short_score, executed, votes_json)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.Timestamp, strings.ToUpper(rec.Symbol), rec.Action, rec.Confidence, rec.Reasoning,
		rec.Regime, rec.LongScore, rec.ShortScore, boolToInt(rec.Executed), string(votes))
	if err != nil {
		return 0, fmt.Errorf("decisionlog: insert decision: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertOutcome(ctx context.Context, rec OutcomeRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (decision_id, ts, symbol, exit_reason, pnl_usd, pnl_pct, held_hours)
		 VALUES (?,?,?,?,?,?,?)`,
		rec.DecisionID, rec.Timestamp, strings.ToUpper(rec.Symbol), rec.ExitReason,
		rec.PnLUSD, rec.PnLPct, rec.HeldHours)
	if err != nil {
		return fmt.Errorf("decisionlog: insert outcome: %w", err)
	}
	return nil
}

// RecentDecisions 按时间倒序返回最近的裁决。
func (s *Store) RecentDecisions(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, ts, symbol, action, confidence, reasoning, regime, long_score, short_score, executed, votes_json
		FROM decisions`
	args := []any{}
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var executed int
		var votesJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Action, &rec.Confidence,
			&rec.Reasoning, &rec.Regime, &rec.LongScore, &rec.ShortScore, &executed, &votesJSON); err != nil {
			return nil, err
		}
		rec.Executed = executed != 0
		if votesJSON.Valid && votesJSON.String != "" {
			_ = json.Unmarshal([]byte(votesJSON.String), &rec.Votes)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OutcomesFor 返回某条裁决关联的结果。
func (s *Store) OutcomesFor(ctx context.Context, decisionID int64) ([]OutcomeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, ts, symbol, exit_reason, pnl_usd, pnl_pct, held_hours
		 FROM outcomes WHERE decision_id = ? ORDER BY ts ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		if err := rows.Scan(&rec.ID, &rec.DecisionID, &rec.Timestamp, &rec.Symbol,
			&rec.ExitReason, &rec.PnLUSD, &rec.PnLPct, &rec.HeldHours); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
