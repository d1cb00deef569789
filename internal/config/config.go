package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/pkg/logger"
)

// 代理类型，对应不同的数据源。
const (
	KindThreshold = "threshold"
	KindReasoning = "reasoning"
	KindSentiment = "sentiment"
	KindRandom    = "random"
)

// Config 描述了守护进程与代理在启动阶段需要加载的全部配置。
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Agents     []AgentConfig    `yaml:"agents"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Log        logger.Config    `yaml:"log"`
	Runtime    RuntimeConfig    `yaml:"runtime"`

	path string
}

// ChainConfig 描述链节点、聚合合约与交易参数。
type ChainConfig struct {
	RPCURL             string        `yaml:"rpc_url"`
	RPCURLEnv          string        `yaml:"rpc_url_env"`
	ContractAddress    string        `yaml:"contract_address"`
	ContractAddressEnv string        `yaml:"contract_address_env"`
	ABIPath            string        `yaml:"abi_path"`
	ChainID            int64         `yaml:"chain_id"`
	PrivateKeyEnv      string        `yaml:"private_key_env"`
	Stake              string        `yaml:"stake"`
	GasPriceGwei       string        `yaml:"gas_price_gwei"`
	GasLimit           uint64        `yaml:"gas_limit"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

// ReasoningConfig 配置结构化推理服务（OpenAI 兼容接口）。
type ReasoningConfig struct {
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SupervisorConfig 控制代理进程的启动间隔与退出宽限期。
type SupervisorConfig struct {
	AgentBinary    string        `yaml:"agent_binary"`
	Stagger        time.Duration `yaml:"stagger"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	MetricsAddress string        `yaml:"metrics_address"`

	staggerSet bool
}

// UnmarshalYAML 记录 stagger 是否显式出现，使 0s 表示不间隔而不是使用默认值。
func (s *SupervisorConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain SupervisorConfig
	if err := node.Decode((*plain)(s)); err != nil {
		return err
	}
	s.staggerSet = hasKey(node, "stagger")
	return nil
}

// AgentConfig 描述一个受管代理。
type AgentConfig struct {
	Name          string           `yaml:"name"`
	Kind          string           `yaml:"kind"`
	Query         string           `yaml:"query"`
	PrivateKeyEnv string           `yaml:"private_key_env"`
	Command       []string         `yaml:"command"`
	Threshold     *ThresholdConfig `yaml:"threshold"`
	Sentiment     *SentimentConfig `yaml:"sentiment"`
	Random        *RandomConfig    `yaml:"random"`
}

// ThresholdConfig 配置阈值比较型代理。
type ThresholdConfig struct {
	Symbol      string  `yaml:"symbol"`
	Threshold   float64 `yaml:"threshold"`
	Confidence  int     `yaml:"confidence"`
	StaticPrice float64 `yaml:"static_price"`
	PriceURL    string  `yaml:"price_url"`
	PriceField  string  `yaml:"price_field"`

	confidenceSet bool
}

// UnmarshalYAML 记录 confidence 是否显式出现，0 是合法的置信度。
func (t *ThresholdConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ThresholdConfig
	if err := node.Decode((*plain)(t)); err != nil {
		return err
	}
	t.confidenceSet = hasKey(node, "confidence")
	return nil
}

// SentimentConfig 配置新闻情绪型代理。
type SentimentConfig struct {
	Topic     string `yaml:"topic"`
	SearchURL string `yaml:"search_url"`
	UserAgent string `yaml:"user_agent"`
}

// RandomConfig 配置随机型代理，Seed 为 0 时使用时间种子。
type RandomConfig struct {
	MinConfidence int    `yaml:"min_confidence"`
	MaxConfidence int    `yaml:"max_confidence"`
	Seed          uint64 `yaml:"seed"`

	rangeSet bool
}

// UnmarshalYAML 记录置信度区间是否显式给出，[0,0] 不会被默认区间覆盖。
func (r *RandomConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain RandomConfig
	if err := node.Decode((*plain)(r)); err != nil {
		return err
	}
	r.rangeSet = hasKey(node, "min_confidence") || hasKey(node, "max_confidence")
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// LedgerConfig 选择提交记录的落地方式。
type LedgerConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
	AMQP   AMQPConfig  `yaml:"amqp"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// MigrationsTable 记录提交表结构版本，默认 ledger_schema_migrations，
	// 便于与其他服务共用同一个数据库。
	MigrationsTable string `yaml:"migrations_table"`
}

// RedisConfig 描述 Redis 列表存储参数。
type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	MaxEntries int64  `yaml:"max_entries"`
}

// AMQPConfig 描述回执通知的 RabbitMQ 队列，URL 为空时不启用。
type AMQPConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
	EnvFile string `yaml:"env_file"`
}

// DefaultNewsSearchURL 是情绪型代理默认抓取的新闻搜索页，{topic} 会被替换为查询词。
const DefaultNewsSearchURL = "https://www.google.com/search?q={topic}&tbm=nws"

// DefaultPath 是未设置 ARGOS_CONFIG 时使用的配置文件位置。
var DefaultPath = filepath.Join("configs", "argos.yaml")

// PathFromEnv 返回 ARGOS_CONFIG 指定的路径或默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv("ARGOS_CONFIG")); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件，并加载 .env 文件中的环境变量。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	cfg.path = absPath
	cfg.applyDefaults(filepath.Dir(absPath))

	if err := loadEnvFile(cfg.Runtime.EnvFile); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path 返回配置文件的绝对路径，供守护进程传递给代理进程。
func (c *Config) Path() string {
	return c.path
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	// godotenv 不会覆盖已经存在的环境变量。
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("加载环境文件 %s 失败", path))
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置默认值，数值沿用最初的代理脚本。
func (c *Config) applyDefaults(baseDir string) {
	if c.Chain.RPCURLEnv == "" {
		c.Chain.RPCURLEnv = "RPC_URL"
	}
	if c.Chain.ContractAddressEnv == "" {
		c.Chain.ContractAddressEnv = "CONTRACT_ADDRESS"
	}
	if c.Chain.PrivateKeyEnv == "" {
		c.Chain.PrivateKeyEnv = "AGENT_PRIVATE_KEY"
	}
	if c.Chain.ABIPath == "" {
		c.Chain.ABIPath = "contract_abi.json"
	}
	c.Chain.ABIPath = resolve(baseDir, c.Chain.ABIPath)
	if c.Chain.Stake == "" {
		c.Chain.Stake = "0.01"
	}
	if c.Chain.GasPriceGwei == "" {
		c.Chain.GasPriceGwei = "50"
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 200000
	}
	if c.Chain.ConnectTimeout <= 0 {
		c.Chain.ConnectTimeout = 10 * time.Second
	}
	if c.Chain.ConfirmTimeout <= 0 {
		c.Chain.ConfirmTimeout = 120 * time.Second
	}
	if c.Chain.PollInterval <= 0 {
		c.Chain.PollInterval = time.Second
	}

	if c.Reasoning.APIKeyEnv == "" {
		c.Reasoning.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = "gpt-3.5-turbo"
	}
	if c.Reasoning.Timeout <= 0 {
		c.Reasoning.Timeout = 30 * time.Second
	}

	if !c.Supervisor.staggerSet || c.Supervisor.Stagger < 0 {
		c.Supervisor.Stagger = 2 * time.Second
	}
	if c.Supervisor.GracePeriod <= 0 {
		c.Supervisor.GracePeriod = 5 * time.Second
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = "data"
	}
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	if c.Runtime.EnvFile == "" {
		c.Runtime.EnvFile = ".env"
	}
	c.Runtime.EnvFile = resolve(baseDir, c.Runtime.EnvFile)

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "file"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.Runtime.DataDir, "submissions.jsonl")
	}
	c.Ledger.Path = resolve(baseDir, c.Ledger.Path)

	if c.Log.Journal.Enabled {
		if c.Log.Journal.Path == "" {
			c.Log.Journal.Path = filepath.Join(c.Runtime.DataDir, "journal.log")
		}
		c.Log.Journal.Path = resolve(baseDir, c.Log.Journal.Path)
	}

	for i := range c.Agents {
		agent := &c.Agents[i]
		agent.Kind = strings.ToLower(strings.TrimSpace(agent.Kind))
		switch agent.Kind {
		case KindThreshold:
			if agent.Threshold == nil {
				agent.Threshold = &ThresholdConfig{}
			}
			if !agent.Threshold.confidenceSet {
				agent.Threshold.Confidence = 96
			}
			if agent.Threshold.Symbol == "" {
				agent.Threshold.Symbol = "SOL"
			}
			if agent.Threshold.Threshold == 0 {
				agent.Threshold.Threshold = 250
			}
			if agent.Threshold.PriceURL == "" && agent.Threshold.StaticPrice == 0 {
				agent.Threshold.StaticPrice = 255
			}
		case KindRandom:
			if agent.Random == nil {
				agent.Random = &RandomConfig{}
			}
			if !agent.Random.rangeSet {
				agent.Random.MinConfidence = 70
				agent.Random.MaxConfidence = 95
			}
		case KindSentiment:
			if agent.Sentiment == nil {
				agent.Sentiment = &SentimentConfig{}
			}
			if agent.Sentiment.Topic == "" {
				agent.Sentiment.Topic = agent.Query
			}
			if agent.Sentiment.SearchURL == "" {
				agent.Sentiment.SearchURL = DefaultNewsSearchURL
			}
		}
	}
}

// Validate 检查守护进程级别的结构是否完整。链与密钥相关的检查由 ResolveAgent
// 在代理进程内完成。
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return xerrors.New(xerrors.CodeConfiguration, "未配置任何代理")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, agent := range c.Agents {
		name := strings.TrimSpace(agent.Name)
		if name == "" {
			return xerrors.New(xerrors.CodeConfiguration, "代理名称不能为空")
		}
		if _, dup := seen[name]; dup {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("代理名称重复: %s", name))
		}
		seen[name] = struct{}{}
		switch agent.Kind {
		case KindThreshold, KindReasoning, KindSentiment, KindRandom:
		default:
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("代理 %s 使用了未知类型 %q", name, agent.Kind))
		}
		if strings.TrimSpace(agent.Query) == "" {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("代理 %s 缺少 query", name))
		}
		if agent.Random != nil {
			r := agent.Random
			if r.MinConfidence < 0 || r.MaxConfidence > 100 || r.MinConfidence > r.MaxConfidence {
				return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("代理 %s 的置信度区间无效", name))
			}
		}
		if agent.Threshold != nil && (agent.Threshold.Confidence < 0 || agent.Threshold.Confidence > 100) {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("代理 %s 的置信度超出 0-100", name))
		}
	}
	if c.Supervisor.GracePeriod <= 0 {
		return xerrors.New(xerrors.CodeConfiguration, "grace_period 必须大于 0")
	}
	return nil
}

// Agent 按名称返回代理配置。
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, agent := range c.Agents {
		if agent.Name == name {
			return agent, true
		}
	}
	return AgentConfig{}, false
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
