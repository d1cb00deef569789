package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"Argos-Oracle/internal/config"
	"Argos-Oracle/internal/ledger"
	"Argos-Oracle/internal/observability/metrics"
	"Argos-Oracle/internal/supervisor"
	"Argos-Oracle/pkg/logger"
)

// main 是 Argos 守护进程的入口。所有代理进入终止状态后守护进程以 0 退出，
// 单个代理的失败只会出现在汇总报告中。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("argosd 运行失败: %v", err)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("argosd", flag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "path to the YAML configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	runID := uuid.NewString()
	specs, err := supervisor.SpecsFromConfig(cfg, runID)
	if err != nil {
		return err
	}

	slogger := logger.Named("argosd").With(slog.String("run_id", runID))
	opts := []supervisor.Option{
		supervisor.WithStagger(cfg.Supervisor.Stagger),
		supervisor.WithGracePeriod(cfg.Supervisor.GracePeriod),
	}

	if addr := cfg.Supervisor.MetricsAddress; addr != "" {
		collector := metrics.NewSupervisor()
		opts = append(opts, supervisor.WithObserver(collector))

		// Metrics stay up until run returns, past the interrupt.
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := metrics.StartServer(metricsCtx, addr, collector.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				slogger.Error("metrics 服务异常退出", slog.String("address", addr), slog.Any("error", err))
			}
		}()
		slogger.Info("metrics 服务已启动", slog.String("address", addr))
	}

	sup, err := supervisor.New(&supervisor.ExecLauncher{}, specs, opts...)
	if err != nil {
		return err
	}

	slogger.Info("开始启动代理",
		slog.Int("agents", len(specs)),
		slog.Duration("stagger", cfg.Supervisor.Stagger),
		slog.Duration("grace_period", cfg.Supervisor.GracePeriod))

	reader, closeReader := openLedgerReader(ctx, cfg.Ledger, slogger)
	defer closeReader()

	journal := logger.Journal().With(slog.String("run_id", runID))
	return supervise(ctx, sup, runID, reader, slogger, journal)
}

const (
	ledgerLookupLimit   = 512
	ledgerLookupTimeout = 5 * time.Second
)

// supervise 运行全部代理并输出汇总报告。代理的退出码只体现在报告中，
// 除非监督器本身无法运行，否则总是返回 nil。
func supervise(ctx context.Context, sup *supervisor.Supervisor, runID string, reader ledger.Reader, console, journal *slog.Logger) error {
	report, err := sup.Run(ctx)
	if err != nil {
		return err
	}

	if reader != nil {
		// 中断后仍需读取本轮的提交记录。
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerLookupTimeout)
		latest, err := ledger.LatestByAgent(lookupCtx, reader, runID, ledgerLookupLimit)
		cancel()
		if err != nil {
			console.Warn("读取提交记录失败，报告中不含交易信息", slog.Any("error", err))
		} else {
			report.AttachSubmissions(latest)
		}
	}

	report.Log(journal)
	report.LogSummary(console)
	if report.Summary.Failed > 0 || report.Summary.Forced > 0 {
		console.Warn("部分代理未正常结束",
			slog.Int("failed", report.Summary.Failed),
			slog.Int("forced", report.Summary.Forced))
	}
	return nil
}

// openLedgerReader 以只读方式打开代理写入的提交记录。不支持读取的驱动
// 或打开失败时返回 nil，报告照常输出。
func openLedgerReader(ctx context.Context, cfg config.LedgerConfig, console *slog.Logger) (ledger.Reader, func()) {
	cfg.AMQP = config.AMQPConfig{}
	recorder, err := ledger.Open(ctx, cfg)
	if err != nil {
		console.Warn("打开提交记录失败", slog.String("driver", cfg.Driver), slog.Any("error", err))
		return nil, func() {}
	}
	closeRecorder := func() { _ = recorder.Close() }
	reader, ok := recorder.(ledger.Reader)
	if !ok {
		return nil, closeRecorder
	}
	return reader, closeRecorder
}
