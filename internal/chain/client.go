package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "Argos-Oracle/internal/errors"
)

// Backend is the subset of an EVM endpoint the submitter relies on. Both
// *ethclient.Client and the go-ethereum simulated client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Snapshot summarises the endpoint state observed by a connectivity check.
type Snapshot struct {
	ChainID     *big.Int
	BlockNumber uint64
}

// Client wraps an ethclient connection to a single RPC endpoint.
type Client struct {
	*ethclient.Client

	once sync.Once
}

// Dial connects to the RPC endpoint. Dialing an HTTP endpoint does not touch
// the network, so callers still need CheckConnectivity before trusting the connection.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置链节点 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "连接链节点失败",
			xerrors.WithMetadata("rpc_url", rpcURL))
	}
	return &Client{Client: eth}, nil
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() {
	if c == nil || c.Client == nil {
		return
	}
	c.once.Do(c.Client.Close)
}

// CheckConnectivity verifies the endpoint answers basic queries.
func CheckConnectivity(ctx context.Context, backend Backend) (Snapshot, error) {
	if backend == nil {
		return Snapshot{}, xerrors.New(xerrors.CodeConnectivity, "未初始化的链客户端")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取链 ID 失败")
	}
	height, err := backend.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取最新区块高度失败")
	}
	return Snapshot{ChainID: chainID, BlockNumber: height}, nil
}

// nonceErrors are the txpool rejections that mean the nonce slot is taken.
var nonceErrors = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"nonce has already been used",
}

// IsNonceCollision reports whether a broadcast failed because another
// transaction already occupies the nonce.
func IsNonceCollision(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonceErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// knownErrors are the txpool answers for a transaction it already holds.
var knownErrors = []string{
	"already known",
	"known transaction",
}

// IsAlreadyKnown reports whether the node rejected a broadcast because the
// identical signed transaction is already in its pool. The transaction is
// pending and its receipt can be awaited.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range knownErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
