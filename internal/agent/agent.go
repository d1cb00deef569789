package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/internal/ledger"
	"Argos-Oracle/internal/prediction"
	"Argos-Oracle/internal/submit"
	"Argos-Oracle/pkg/logger"
)

// Submitter 抽象提交流程，便于测试替换。
type Submitter interface {
	Submit(ctx context.Context, p prediction.Prediction) (*submit.Receipt, error)
}

// Result 汇总一次运行的结果。
type Result struct {
	RunID      string
	Agent      string
	Status     ledger.Status
	Prediction *prediction.Prediction
	Receipt    *submit.Receipt
}

// Agent 串联预测、提交与记录，一次 Run 即一次完整运行。
type Agent struct {
	name      string
	kind      string
	query     string
	account   string
	predictor prediction.Predictor
	submitter Submitter
	recorder  ledger.Recorder
	runID     string
	log       *slog.Logger
	now       func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRunID 指定运行 ID，默认生成 UUID。守护进程会通过环境变量传入自己的运行 ID。
func WithRunID(id string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(id) != "" {
			a.runID = strings.TrimSpace(id)
		}
	}
}

// WithRecorder 配置提交记录。
func WithRecorder(r ledger.Recorder) Option {
	return func(a *Agent) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithAccount 设置记录中的发送账户。
func WithAccount(account string) Option {
	return func(a *Agent) {
		a.account = account
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。
func New(name, query string, predictor prediction.Predictor, submitter Submitter, opts ...Option) *Agent {
	a := &Agent{
		name:      name,
		query:     query,
		predictor: predictor,
		submitter: submitter,
		recorder:  ledger.Nop{},
		runID:     uuid.NewString(),
		now:       time.Now,
	}
	if predictor != nil {
		a.kind = predictor.Name()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.log == nil {
		a.log = logger.Named("agent")
	}
	a.log = a.log.With(slog.String("agent", a.name), slog.String("run_id", a.runID))
	return a
}

// RunID 返回本次运行的 ID。
func (a *Agent) RunID() string { return a.runID }

// Run 执行一次完整运行。预测不可用时不会发起任何交易；确认超时不视为错误，
// 只返回未确认的结果且不会重新提交。
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	result := &Result{RunID: a.runID, Agent: a.name}

	if a.predictor == nil || a.submitter == nil {
		err := xerrors.New(xerrors.CodeConfiguration, "代理缺少预测器或提交器")
		result.Status = ledger.StatusFailed
		return result, a.finish(ctx, result, err)
	}

	p, err := a.predictor.Predict(ctx, a.query)
	if err != nil {
		result.Status = ledger.StatusUnavailable
		if xerrors.IsCode(err, xerrors.CodeAgentDisabled) {
			result.Status = ledger.StatusDisabled
		}
		return result, a.finish(ctx, result, err)
	}
	result.Prediction = &p
	a.log.Info("预测完成", slog.String("kind", a.kind), slog.Any("prediction", p))

	receipt, err := a.submitter.Submit(ctx, p)
	if err != nil {
		result.Status = ledger.StatusFailed
		return result, a.finish(ctx, result, err)
	}
	result.Receipt = receipt

	switch {
	case !receipt.Confirmed:
		result.Status = ledger.StatusUnconfirmed
	case !receipt.Succeeded():
		result.Status = ledger.StatusReverted
		err = xerrors.New(xerrors.CodeTransaction, "交易已上链但执行失败",
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	default:
		result.Status = ledger.StatusConfirmed
	}
	return result, a.finish(ctx, result, err)
}

// finish 写日志并落库，落库失败只记录日志，不影响运行结果。
func (a *Agent) finish(ctx context.Context, result *Result, runErr error) error {
	entry := a.entry(result, runErr)

	switch {
	case runErr != nil:
		a.logFailure(runErr, result)
	case result.Status == ledger.StatusUnconfirmed:
		a.log.Warn("交易未在超时前确认，不会自动重新提交",
			slog.String("error_kind", string(xerrors.CodeConfirmationTimeout)),
			slog.Any("receipt", result.Receipt))
	default:
		a.log.Info("提交已确认", slog.Any("receipt", result.Receipt))
	}

	// 即使上游 ctx 已取消也尽量写入记录。
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.recorder.Record(recordCtx, entry); err != nil {
		a.log.Warn("写入提交记录失败",
			slog.String("error_kind", string(xerrors.CodeLedgerFailure)),
			slog.String("recorder", a.recorder.Name()),
			slog.String("error", err.Error()))
	}
	return runErr
}

func (a *Agent) logFailure(err error, result *Result) {
	attrs := []any{
		slog.String("error_kind", string(xerrors.CodeOf(err))),
		slog.String("status", string(result.Status)),
		slog.Any("error", err),
	}
	if result.Receipt != nil {
		attrs = append(attrs, slog.String("tx_hash", result.Receipt.TxHash.Hex()))
	}
	if md, ok := xerrors.From(err); ok {
		if nonce, found := md.Metadata()["nonce"]; found {
			attrs = append(attrs, slog.String("nonce", nonce))
		}
	}
	switch xerrors.SeverityOf(err) {
	case xerrors.SeverityInfo:
		a.log.Info("代理跳过本次运行", attrs...)
	case xerrors.SeverityWarning:
		a.log.Warn("代理未发起交易", attrs...)
	default:
		a.log.Error("代理运行失败", attrs...)
	}
}

func (a *Agent) entry(result *Result, runErr error) ledger.Entry {
	entry := ledger.Entry{
		RunID:      a.runID,
		Agent:      a.name,
		Kind:       a.kind,
		Query:      a.query,
		Status:     result.Status,
		Account:    a.account,
		RecordedAt: a.now().UTC(),
	}
	if result.Prediction != nil {
		entry.Outcome = result.Prediction.Outcome()
		entry.Confidence = int(result.Prediction.Confidence())
	}
	if r := result.Receipt; r != nil {
		entry.Nonce = r.Nonce
		entry.Attempts = r.Attempts
		entry.TxHash = r.TxHash.Hex()
		entry.Confirmed = r.Confirmed
		entry.BlockNumber = r.BlockNumber
		if r.Confirmed {
			entry.BlockHash = r.BlockHash.Hex()
		}
	}
	if runErr != nil {
		entry.ErrorKind = string(xerrors.CodeOf(runErr))
		entry.Error = runErr.Error()
	}
	return entry
}
