package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"Argos-Oracle/internal/chain"
	"Argos-Oracle/internal/config"
	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/internal/ledger"
	"Argos-Oracle/internal/prediction"
	"Argos-Oracle/internal/submit"
	"Argos-Oracle/pkg/logger"
)

const sourceTimeout = 15 * time.Second

// NewPredictor 根据代理类型构建预测器。推理型代理缺少 API Key 时返回
// AGENT_DISABLED，其余构建错误一律视为配置错误。
func NewPredictor(settings *config.AgentSettings) (prediction.Predictor, error) {
	httpClient := &http.Client{Timeout: sourceTimeout}
	cfg := settings.Agent

	var (
		p   prediction.Predictor
		err error
	)
	switch settings.Kind {
	case config.KindThreshold:
		t := cfg.Threshold
		if t == nil {
			t = &config.ThresholdConfig{}
		}
		var source prediction.PriceSource = prediction.StaticPriceSource(t.StaticPrice)
		if t.PriceURL != "" {
			source = &prediction.HTTPPriceSource{URL: t.PriceURL, Field: t.PriceField, Client: httpClient}
		}
		p, err = prediction.NewThreshold(source, t.Symbol, t.Threshold, t.Confidence)
	case config.KindReasoning:
		p, err = prediction.NewReasoning(prediction.ReasoningConfig{
			APIKey:  settings.ReasoningAPIKey.Reveal(),
			BaseURL: settings.Reasoning.BaseURL,
			Model:   settings.Reasoning.Model,
			Timeout: settings.Reasoning.Timeout,
		})
	case config.KindSentiment:
		s := cfg.Sentiment
		if s == nil {
			s = &config.SentimentConfig{SearchURL: config.DefaultNewsSearchURL}
		}
		p, err = prediction.NewSentiment(&prediction.HTTPHeadlineSource{
			SearchURL: s.SearchURL,
			UserAgent: s.UserAgent,
			Client:    httpClient,
		}, nil, s.Topic)
	case config.KindRandom:
		r := cfg.Random
		if r == nil {
			r = &config.RandomConfig{MinConfidence: 70, MaxConfidence: 95}
		}
		p, err = prediction.NewRandom(prediction.NewSeededSource(r.Seed), r.MinConfidence, r.MaxConfidence)
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的代理类型 %q", settings.Kind))
	}
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeAgentDisabled) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("构建 %s 预测器失败", settings.Kind))
	}
	return p, nil
}

// Build 装配一个可运行的代理：预测器、链客户端、聚合合约、提交器与提交记录。
// 返回的 cleanup 用于释放连接。
func Build(ctx context.Context, settings *config.AgentSettings, runID string) (*Agent, func(), error) {
	predictor, err := NewPredictor(settings)
	if err != nil {
		return nil, func() {}, err
	}

	contract, err := chain.LoadContract(settings.ABIPath, settings.ContractAddress)
	if err != nil {
		return nil, func() {}, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, settings.ConnectTimeout)
	client, err := chain.Dial(dialCtx, settings.RPCURL)
	cancel()
	if err != nil {
		return nil, func() {}, err
	}

	submitter, err := submit.NewSubmitter(client, contract, settings.SigningKey(),
		submit.WithStake(settings.Stake),
		submit.WithGasPrice(settings.GasPrice),
		submit.WithGasLimit(settings.GasLimit),
		submit.WithChainID(settings.ChainID),
		submit.WithConfirmTimeout(settings.ConfirmTimeout),
		submit.WithPollInterval(settings.PollInterval),
		submit.WithConnectTimeout(settings.ConnectTimeout),
	)
	if err != nil {
		client.Close()
		return nil, func() {}, err
	}

	log := logger.Named("agent")
	var recorder ledger.Recorder = ledger.Nop{}
	if opened, err := ledger.Open(ctx, settings.Ledger); err != nil {
		log.Warn("提交记录不可用，本次运行不落库",
			slog.String("agent", settings.Name),
			slog.String("error_kind", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()))
	} else {
		recorder = opened
	}

	ag := New(settings.Name, settings.Query, predictor, submitter,
		WithRunID(runID),
		WithRecorder(recorder),
		WithAccount(settings.Account.Hex()),
		WithLogger(log),
	)
	cleanup := func() {
		if err := recorder.Close(); err != nil {
			log.Warn("关闭提交记录失败", slog.String("error", err.Error()))
		}
		client.Close()
	}
	return ag, cleanup, nil
}
