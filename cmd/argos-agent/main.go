package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"Argos-Oracle/internal/agent"
	"Argos-Oracle/internal/config"
	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/pkg/logger"
)

// main 是单个预测代理的入口：一次预测、至多一次提交，然后退出。
// 退出码由错误类型决定，守护进程据此汇总结果。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		logger.L().Log(context.Background(), severityLevel(err), "argos-agent 运行结束",
			slog.String("error_kind", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()))
	}
	_ = logger.Sync()
	os.Exit(xerrors.ExitCodeOf(err))
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("argos-agent", flag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "path to the YAML configuration")
	name := fs.String("agent", os.Getenv("ARGOS_AGENT"), "name of the configured agent to run")
	runID := fs.String("run-id", os.Getenv("ARGOS_RUN_ID"), "run identifier recorded with the submission")
	if err := fs.Parse(args); err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "解析命令行参数失败")
	}
	if *name == "" {
		return xerrors.New(xerrors.CodeConfiguration, "必须通过 -agent 或 ARGOS_AGENT 指定代理名称")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化日志失败")
	}

	settings, err := cfg.ResolveAgent(*name)
	if err != nil {
		return err
	}
	log := logger.Named("agent").With(slog.String("agent", settings.Name))
	log.Info("代理启动", slog.Any("settings", settings))

	ag, cleanup, err := agent.Build(ctx, settings, *runID)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := ag.Run(ctx)
	if result != nil {
		attrs := []any{slog.String("run_id", result.RunID), slog.String("status", string(result.Status))}
		if result.Receipt != nil {
			attrs = append(attrs, slog.Any("receipt", result.Receipt))
		}
		log.Info("代理运行完成", attrs...)
	}
	if err != nil {
		return fmt.Errorf("agent %s: %w", settings.Name, err)
	}
	return nil
}

func severityLevel(err error) slog.Level {
	switch xerrors.SeverityOf(err) {
	case xerrors.SeverityInfo:
		return slog.LevelInfo
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
