// Package ledger records one entry per agent run so submissions can be
// audited after the fact. Entries go to a local JSONL file by default, or to
// MySQL or Redis, optionally fanned out to a RabbitMQ queue.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Argos-Oracle/internal/config"
	xerrors "Argos-Oracle/internal/errors"
)

// Status summarises how a run ended.
type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusUnconfirmed Status = "unconfirmed"
	StatusReverted    Status = "reverted"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
)

// Entry is one ledger line. Prediction and transaction fields are zero when
// the run ended before reaching them.
type Entry struct {
	RunID       string    `json:"run_id"`
	Agent       string    `json:"agent"`
	Kind        string    `json:"kind"`
	Query       string    `json:"query"`
	Status      Status    `json:"status"`
	Outcome     bool      `json:"outcome"`
	Confidence  int       `json:"confidence"`
	Account     string    `json:"account,omitempty"`
	Nonce       uint64    `json:"nonce,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Confirmed   bool      `json:"confirmed"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	BlockHash   string    `json:"block_hash,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Recorder persists ledger entries.
type Recorder interface {
	Name() string
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// Reader lists the most recent entries, newest first.
type Reader interface {
	ListLatest(ctx context.Context, limit int) ([]Entry, error)
}

// LatestByAgent scans the newest limit entries of r and keeps, per agent, the
// most recent one recorded under runID. A nil reader yields an empty map.
func LatestByAgent(ctx context.Context, r Reader, runID string, limit int) (map[string]Entry, error) {
	latest := make(map[string]Entry)
	if r == nil {
		return latest, nil
	}
	entries, err := r.ListLatest(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.RunID != runID {
			continue
		}
		if _, seen := latest[entry.Agent]; !seen {
			latest[entry.Agent] = entry
		}
	}
	return latest, nil
}

// Nop discards every entry.
type Nop struct{}

// Name implements Recorder.
func (Nop) Name() string { return "none" }

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) error { return nil }

// Close implements Recorder.
func (Nop) Close() error { return nil }

// Open builds the recorder selected by cfg. When an AMQP URL is configured the
// primary recorder is wrapped in a Fanout that also publishes every entry.
func Open(ctx context.Context, cfg config.LedgerConfig) (Recorder, error) {
	var (
		primary Recorder
		err     error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		primary, err = NewFileRecorder(cfg.Path)
	case "mysql":
		primary, err = NewMySQLRecorder(ctx, cfg.MySQL)
	case "redis":
		primary, err = NewRedisRecorder(ctx, cfg.Redis)
	case "none":
		primary = Nop{}
	default:
		err = fmt.Errorf("不支持的记录驱动: %s", driver)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "初始化提交记录失败")
	}

	if strings.TrimSpace(cfg.AMQP.URL) == "" {
		return primary, nil
	}
	publisher, err := NewAMQPRecorder(cfg.AMQP)
	if err != nil {
		_ = primary.Close()
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "初始化回执通知失败")
	}
	return NewFanout(primary, publisher), nil
}
