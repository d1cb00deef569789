package config

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	xerrors "Argos-Oracle/internal/errors"
)

// Secret 保存敏感字符串，日志与格式化输出时一律脱敏。
type Secret string

// String 实现 fmt.Stringer。
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// LogValue 实现 slog.LogValuer。
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal 返回原始值，仅在调用外部服务时使用。
func (s Secret) Reveal() string {
	return string(s)
}

// AgentSettings 是单个代理进程运行所需的全部参数，由 ResolveAgent 一次性构建。
type AgentSettings struct {
	Name    string
	Kind    string
	Query   string
	Agent   AgentConfig
	Ledger  LedgerConfig
	DataDir string

	RPCURL          string
	ContractAddress common.Address
	ABIPath         string
	ChainID         *big.Int
	Account         common.Address
	Stake           *big.Int
	GasPrice        *big.Int
	GasLimit        uint64
	ConnectTimeout  time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration

	Reasoning       ReasoningConfig
	ReasoningAPIKey Secret

	signingKey *ecdsa.PrivateKey
}

// SigningKey 返回代理的签名私钥。私钥只在本地签名时使用。
func (s *AgentSettings) SigningKey() *ecdsa.PrivateKey {
	return s.signingKey
}

// LogValue 只输出不敏感的字段。
func (s *AgentSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("agent", s.Name),
		slog.String("kind", s.Kind),
		slog.String("account", s.Account.Hex()),
		slog.String("contract", s.ContractAddress.Hex()),
		slog.String("rpc_url", s.RPCURL),
	)
}

// ResolveAgent 构建指定代理的配置值对象，是缺失配置唯一的报错点。
func (c *Config) ResolveAgent(name string) (*AgentSettings, error) {
	agent, ok := c.Agent(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("配置中不存在代理 %s", name))
	}

	rpcURL := firstNonEmpty(os.Getenv(c.Chain.RPCURLEnv), c.Chain.RPCURL)
	if rpcURL == "" {
		return nil, missing("chain.rpc_url", c.Chain.RPCURLEnv)
	}

	contract := firstNonEmpty(os.Getenv(c.Chain.ContractAddressEnv), c.Chain.ContractAddress)
	if contract == "" {
		return nil, missing("chain.contract_address", c.Chain.ContractAddressEnv)
	}
	if !common.IsHexAddress(contract) {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("合约地址格式错误: %s", contract))
	}

	if _, err := os.Stat(c.Chain.ABIPath); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("合约 ABI 文件不可用: %s", c.Chain.ABIPath))
	}

	keyEnv := firstNonEmpty(agent.PrivateKeyEnv, c.Chain.PrivateKeyEnv)
	rawKey := strings.TrimPrefix(strings.TrimSpace(os.Getenv(keyEnv)), "0x")
	if rawKey == "" {
		return nil, missing("signing key", keyEnv)
	}
	key, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		// 不把原始错误带出去，避免泄露私钥片段。
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("环境变量 %s 中的私钥无法解析", keyEnv))
	}

	stake, err := parseUnits(c.Chain.Stake, 18)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "chain.stake 无效")
	}
	gasPrice, err := parseUnits(c.Chain.GasPriceGwei, 9)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "chain.gas_price_gwei 无效")
	}

	var chainID *big.Int
	if c.Chain.ChainID > 0 {
		chainID = big.NewInt(c.Chain.ChainID)
	}

	settings := &AgentSettings{
		Name:            agent.Name,
		Kind:            agent.Kind,
		Query:           agent.Query,
		Agent:           agent,
		Ledger:          c.Ledger,
		DataDir:         c.Runtime.DataDir,
		RPCURL:          rpcURL,
		ContractAddress: common.HexToAddress(contract),
		ABIPath:         c.Chain.ABIPath,
		ChainID:         chainID,
		Account:         crypto.PubkeyToAddress(key.PublicKey),
		Stake:           stake,
		GasPrice:        gasPrice,
		GasLimit:        c.Chain.GasLimit,
		ConnectTimeout:  c.Chain.ConnectTimeout,
		ConfirmTimeout:  c.Chain.ConfirmTimeout,
		PollInterval:    c.Chain.PollInterval,
		Reasoning:       c.Reasoning,
		ReasoningAPIKey: Secret(strings.TrimSpace(os.Getenv(c.Reasoning.APIKeyEnv))),
		signingKey:      key,
	}
	return settings, nil
}

// parseUnits 把十进制金额换算为最小单位，例如 0.01 ether -> 10^16 wei。
func parseUnits(amount string, decimals int32) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, err
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("金额不能为负数: %s", amount)
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("金额 %s 的精度超过 %d 位小数", amount, decimals)
	}
	return scaled.BigInt(), nil
}

func missing(setting, env string) error {
	return xerrors.New(xerrors.CodeConfiguration,
		fmt.Sprintf("缺少必需配置 %s（可通过环境变量 %s 设置）", setting, env),
		xerrors.WithMetadata("setting", setting))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
