// Package submit turns a Prediction into a signed, broadcast and confirmed
// call to the aggregator contract.
package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"Argos-Oracle/internal/chain"
	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/internal/prediction"
	"Argos-Oracle/pkg/logger"
)

const (
	defaultGasLimit       = 200_000
	defaultConfirmTimeout = 120 * time.Second
	defaultPollInterval   = time.Second
	defaultConnectTimeout = 10 * time.Second

	// maxAttempts bounds broadcasts per submission: the first send plus a
	// single retry after a nonce refresh.
	maxAttempts = 2
)

var (
	defaultStake    = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(100))
	defaultGasPrice = new(big.Int).Mul(big.NewInt(50), big.NewInt(params.GWei))
)

// SubmissionRequest carries everything needed to build one transaction. It is
// built once per Prediction and never reused.
type SubmissionRequest struct {
	Prediction prediction.Prediction
	Account    common.Address
	Nonce      uint64
	Stake      *big.Int
	GasPrice   *big.Int
	GasLimit   uint64
}

// Receipt describes the outcome of a broadcast. It is terminal once Confirmed
// is true or the confirmation wait timed out.
type Receipt struct {
	TxHash      common.Hash
	Nonce       uint64
	Attempts    int
	Confirmed   bool
	BlockNumber uint64
	BlockHash   common.Hash
	Status      uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction was mined without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Confirmed && r.Status == types.ReceiptStatusSuccessful
}

// LogValue implements slog.LogValuer.
func (r *Receipt) LogValue() slog.Value {
	if r == nil {
		return slog.StringValue("")
	}
	return slog.GroupValue(
		slog.String("tx_hash", r.TxHash.Hex()),
		slog.Uint64("nonce", r.Nonce),
		slog.Int("attempts", r.Attempts),
		slog.Bool("confirmed", r.Confirmed),
		slog.Uint64("block_number", r.BlockNumber),
		slog.Uint64("status", r.Status),
	)
}

// Option customises a Submitter.
type Option func(*Submitter)

// WithStake sets the value attached to every submission, in wei.
func WithStake(wei *big.Int) Option {
	return func(s *Submitter) {
		if wei != nil && wei.Sign() >= 0 {
			s.stake = new(big.Int).Set(wei)
		}
	}
}

// WithGasPrice sets the fixed gas price, in wei.
func WithGasPrice(wei *big.Int) Option {
	return func(s *Submitter) {
		if wei != nil && wei.Sign() > 0 {
			s.gasPrice = new(big.Int).Set(wei)
		}
	}
}

// WithGasLimit sets the fixed gas limit.
func WithGasLimit(limit uint64) Option {
	return func(s *Submitter) {
		if limit > 0 {
			s.gasLimit = limit
		}
	}
}

// WithChainID pins the expected chain ID. When unset the ID reported by the
// endpoint is used for signing.
func WithChainID(id *big.Int) Option {
	return func(s *Submitter) {
		if id != nil && id.Sign() > 0 {
			s.chainID = new(big.Int).Set(id)
		}
	}
}

// WithConfirmTimeout bounds the wait for a receipt.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithPollInterval sets how often the receipt is polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithConnectTimeout bounds the connectivity check.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJournal overrides the journal logger that receives one line per
// broadcast attempt.
func WithJournal(l *slog.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.journal = l
		}
	}
}

// Submitter signs and broadcasts submit(outcome, confidence, proof) calls for
// a single account. The private key never leaves the process and is never
// logged.
type Submitter struct {
	backend  chain.Backend
	contract *chain.Contract
	key      *ecdsa.PrivateKey
	account  common.Address

	stake          *big.Int
	gasPrice       *big.Int
	gasLimit       uint64
	chainID        *big.Int
	confirmTimeout time.Duration
	pollInterval   time.Duration
	connectTimeout time.Duration

	log     *slog.Logger
	journal *slog.Logger
}

// NewSubmitter wires a submitter for the account derived from key.
func NewSubmitter(backend chain.Backend, contract *chain.Contract, key *ecdsa.PrivateKey, opts ...Option) (*Submitter, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置链客户端")
	}
	if contract == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未加载聚合合约")
	}
	if key == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置签名私钥")
	}
	s := &Submitter{
		backend:        backend,
		contract:       contract,
		key:            key,
		account:        crypto.PubkeyToAddress(key.PublicKey),
		stake:          new(big.Int).Set(defaultStake),
		gasPrice:       new(big.Int).Set(defaultGasPrice),
		gasLimit:       defaultGasLimit,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		connectTimeout: defaultConnectTimeout,
		log:            logger.Named("submit"),
		journal:        logger.Journal(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Account returns the address submissions are sent from.
func (s *Submitter) Account() common.Address {
	return s.account
}

// Request builds the submission request for p at the given nonce.
func (s *Submitter) Request(p prediction.Prediction, nonce uint64) SubmissionRequest {
	return SubmissionRequest{
		Prediction: p,
		Account:    s.account,
		Nonce:      nonce,
		Stake:      new(big.Int).Set(s.stake),
		GasPrice:   new(big.Int).Set(s.gasPrice),
		GasLimit:   s.gasLimit,
	}
}

// BuildTransaction constructs the unsigned transaction for req. For a fixed
// request the result is byte-for-byte deterministic.
func (s *Submitter) BuildTransaction(req SubmissionRequest) (*types.Transaction, error) {
	if !req.Prediction.Valid() {
		return nil, xerrors.New(xerrors.CodePredictionUnavailable, "预测结果无效，拒绝构建交易")
	}
	data, err := s.contract.PackSubmit(req.Prediction.Outcome(), req.Prediction.Confidence(), req.Prediction.Proof())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransaction, err, "构建交易失败")
	}
	to := s.contract.Address()
	return types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		To:       &to,
		Value:    new(big.Int).Set(req.Stake),
		Gas:      req.GasLimit,
		GasPrice: new(big.Int).Set(req.GasPrice),
		Data:     data,
	}), nil
}

// Submit runs the full submission protocol for p: check the endpoint, fetch
// the pending nonce, build and sign the transaction, broadcast it (retrying
// once on a nonce collision) and wait a bounded time for the receipt.
//
// A confirmation timeout is not an error: the returned receipt has
// Confirmed=false and the caller must not resubmit.
func (s *Submitter) Submit(ctx context.Context, p prediction.Prediction) (*Receipt, error) {
	if !p.Valid() {
		return nil, xerrors.New(xerrors.CodePredictionUnavailable, "预测结果无效，拒绝提交")
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	snapshot, err := chain.CheckConnectivity(checkCtx, s.backend)
	cancel()
	if err != nil {
		return nil, err
	}
	chainID, err := s.signingChainID(snapshot.ChainID)
	if err != nil {
		return nil, err
	}
	signer := types.NewEIP155Signer(chainID)

	nonce, err := s.backend.PendingNonceAt(ctx, s.account)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取账户 nonce 失败",
			xerrors.WithMetadata("account", s.account.Hex()))
	}

	var signed *types.Transaction
	attempt := 0
	for {
		attempt++
		signed, err = s.sign(s.Request(p, nonce), signer)
		if err != nil {
			return nil, err
		}
		err = s.backend.SendTransaction(ctx, signed)
		s.journalAttempt(signed, attempt, err)
		if err == nil {
			break
		}
		if chain.IsAlreadyKnown(err) {
			s.log.Info("节点已持有该交易，按已广播处理",
				slog.String("tx_hash", signed.Hash().Hex()),
				slog.Uint64("nonce", nonce))
			break
		}
		if !chain.IsNonceCollision(err) || attempt >= maxAttempts {
			return nil, xerrors.Wrap(xerrors.CodeTransaction, err, "广播交易失败",
				xerrors.WithMetadata("nonce", strconv.FormatUint(nonce, 10)),
				xerrors.WithMetadata("attempts", strconv.Itoa(attempt)))
		}

		refreshed, refreshErr := s.backend.PendingNonceAt(ctx, s.account)
		if refreshErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeTransaction, refreshErr, "nonce 冲突后刷新失败",
				xerrors.WithMetadata("nonce", strconv.FormatUint(nonce, 10)))
		}
		next := nonce + 1
		if refreshed > next {
			next = refreshed
		}
		s.log.Warn("nonce 冲突，刷新后重试一次",
			slog.Uint64("nonce", nonce),
			slog.Uint64("next_nonce", next),
			slog.String("cause", err.Error()))
		nonce = next
	}

	receipt := &Receipt{TxHash: signed.Hash(), Nonce: nonce, Attempts: attempt}
	s.log.Info("交易已广播",
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.Uint64("nonce", nonce),
		slog.String("account", s.account.Hex()))

	s.awaitReceipt(ctx, receipt)
	return receipt, nil
}

func (s *Submitter) signingChainID(observed *big.Int) (*big.Int, error) {
	if s.chainID == nil {
		if observed == nil || observed.Sign() <= 0 {
			return nil, xerrors.New(xerrors.CodeConnectivity, "链节点未返回有效的链 ID")
		}
		return observed, nil
	}
	if observed != nil && observed.Cmp(s.chainID) != 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("链 ID 不匹配: 配置为 %s，节点返回 %s", s.chainID, observed))
	}
	return s.chainID, nil
}

func (s *Submitter) sign(req SubmissionRequest, signer types.Signer) (*types.Transaction, error) {
	tx, err := s.BuildTransaction(req)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransaction, err, "交易签名失败")
	}
	return signed, nil
}

// awaitReceipt polls until the receipt appears, the confirmation timeout
// elapses or ctx is cancelled. It never resubmits.
func (s *Submitter) awaitReceipt(ctx context.Context, receipt *Receipt) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		mined, err := s.backend.TransactionReceipt(waitCtx, receipt.TxHash)
		if err == nil && mined != nil {
			receipt.Confirmed = true
			receipt.Status = mined.Status
			receipt.BlockHash = mined.BlockHash
			receipt.GasUsed = mined.GasUsed
			if mined.BlockNumber != nil {
				receipt.BlockNumber = mined.BlockNumber.Uint64()
			}
			s.journal.Info("submission confirmed",
				slog.String("account", s.account.Hex()),
				slog.Any("receipt", receipt))
			return
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			s.log.Debug("查询交易回执失败，继续等待",
				slog.String("tx_hash", receipt.TxHash.Hex()),
				slog.String("error", err.Error()))
		}

		select {
		case <-waitCtx.Done():
			timeout := xerrors.New(xerrors.CodeConfirmationTimeout, "",
				xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()),
				xerrors.WithMetadata("wait", s.confirmTimeout.String()))
			s.journal.Warn("submission unconfirmed",
				slog.String("error_kind", string(timeout.Code())),
				slog.String("account", s.account.Hex()),
				slog.Any("receipt", receipt))
			return
		case <-ticker.C:
		}
	}
}

func (s *Submitter) journalAttempt(tx *types.Transaction, attempt int, err error) {
	attrs := []any{
		slog.String("account", s.account.Hex()),
		slog.String("contract", s.contract.Address().Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.Int("attempt", attempt),
		slog.String("value_wei", tx.Value().String()),
		slog.String("gas_price_wei", tx.GasPrice().String()),
		slog.Uint64("gas_limit", tx.Gas()),
	}
	if chain.IsAlreadyKnown(err) {
		s.journal.Info("broadcast accepted", append(attrs, slog.Bool("already_known", true))...)
		return
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("error_kind", string(xerrors.CodeTransaction)),
			slog.String("error", err.Error()),
			slog.Bool("nonce_collision", chain.IsNonceCollision(err)))
		s.journal.Warn("broadcast rejected", attrs...)
		return
	}
	s.journal.Info("broadcast accepted", attrs...)
}
