package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"Argos-Oracle/internal/config"
)

// MySQLRecorder stores entries in the submissions table.
type MySQLRecorder struct {
	db *sql.DB
}

// NewMySQLRecorder opens the connection pool and applies pending migrations.
func NewMySQLRecorder(ctx context.Context, cfg config.MySQLConfig) (*MySQLRecorder, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r, err := NewMySQLRecorderWithDB(ctx, db, cfg.MigrationsTable)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewMySQLRecorderWithDB wraps an existing handle and upgrades the
// submissions schema, tracking its version in migrationsTable.
func NewMySQLRecorderWithDB(ctx context.Context, db *sql.DB, migrationsTable string) (*MySQLRecorder, error) {
	s, err := newSchema(db, migrationsTable, schemaFiles)
	if err != nil {
		return nil, err
	}
	if err := s.upgrade(ctx); err != nil {
		return nil, err
	}
	return &MySQLRecorder{db: db}, nil
}

func openDatabase(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

// Name implements Recorder.
func (r *MySQLRecorder) Name() string { return "mysql" }

const insertSubmission = `INSERT INTO submissions
        (run_id, agent, kind, question, status, outcome, confidence, account, nonce, attempts,
         tx_hash, confirmed, block_number, block_hash, error_kind, error_message, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record implements Recorder.
func (r *MySQLRecorder) Record(ctx context.Context, entry Entry) error {
	if _, err := r.db.ExecContext(ctx, insertSubmission,
		entry.RunID,
		entry.Agent,
		entry.Kind,
		entry.Query,
		string(entry.Status),
		entry.Outcome,
		entry.Confidence,
		entry.Account,
		entry.Nonce,
		entry.Attempts,
		entry.TxHash,
		entry.Confirmed,
		entry.BlockNumber,
		entry.BlockHash,
		entry.ErrorKind,
		entry.Error,
		entry.RecordedAt.Unix(),
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest implements Reader.
func (r *MySQLRecorder) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, agent, kind, question, status, outcome, confidence, account, nonce, attempts,
        tx_hash, confirmed, block_number, block_hash, error_kind, error_message, recorded_at
        FROM submissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询提交记录失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			status     string
			recordedAt int64
		)
		if err := rows.Scan(&entry.RunID, &entry.Agent, &entry.Kind, &entry.Query, &status, &entry.Outcome,
			&entry.Confidence, &entry.Account, &entry.Nonce, &entry.Attempts, &entry.TxHash, &entry.Confirmed,
			&entry.BlockNumber, &entry.BlockHash, &entry.ErrorKind, &entry.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("解析提交记录失败: %w", err)
		}
		entry.Status = Status(status)
		entry.RecordedAt = time.Unix(recordedAt, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历提交记录失败: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (r *MySQLRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
