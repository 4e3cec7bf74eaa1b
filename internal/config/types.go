package config

import (
	"os"
	"strings"
)

// Config 是 Quorum 的主配置载体，启动时构建一次后只读。
// 所有阈值（层级表、权重、置信度门槛）都集中在这里，不存在运行期补丁。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Engine    EngineConfig    `toml:"engine"`
	Regime    RegimeConfig    `toml:"regime"`
	Judge     JudgeConfig     `toml:"judge"`
	Risk      RiskConfig      `toml:"risk"`
	Tiers     []TierConfig    `toml:"tiers"`
	Providers ProvidersConfig `toml:"providers"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	FeedLog  string `toml:"feed_log_path"`
	FeedDump bool   `toml:"feed_dump_payload"`
}

// MarketConfig 描述行情数据来源（合约 REST/WS）。
type MarketConfig struct {
	RESTBaseURL     string   `toml:"rest_base_url"`
	ProxyURL        string   `toml:"proxy_url"`
	ReferenceSymbol string   `toml:"reference_symbol"` // 用于 regime 打分的基准币
	AltBasket       []string `toml:"alt_basket"`       // 山寨币动能篮子
	HTTPTimeoutSec  int      `toml:"http_timeout_seconds"`
}

// ExchangeConfig 控制执行侧：paper 只记账，live 走真实下单。
type ExchangeConfig struct {
	Mode        string  `toml:"mode"` // "paper" | "live"
	APIKey      string  `toml:"api_key"`
	APISecret   string  `toml:"api_secret"`
	PaperEquity float64 `toml:"paper_equity"`
}

// ResolveCredentials 允许把密钥留在环境变量里，不落配置文件。
func (e *ExchangeConfig) ResolveCredentials() (key, secret string) {
	key = strings.TrimSpace(e.APIKey)
	secret = strings.TrimSpace(e.APISecret)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("QUORUM_EXCHANGE_KEY"))
	}
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("QUORUM_EXCHANGE_SECRET"))
	}
	return key, secret
}

type EngineConfig struct {
	CycleMinutes     int      `toml:"cycle_minutes"`      // 决策周期
	MonitorSeconds   int      `toml:"monitor_seconds"`    // 持仓巡检周期
	Pairs            []string `toml:"pairs"`              // 交易对白名单
	AutoExecute      bool     `toml:"auto_execute"`       // false 时只记录不下单
	MaxPositions     int      `toml:"max_positions"`      // 仓位规模分母
	ConcentrationCap int      `toml:"concentration_cap"`  // 同向仓位数量上限
	RunRetryAttempts int      `toml:"run_retry_attempts"` // 守护循环重启次数
	RunRetryDelaySec int      `toml:"run_retry_delay_seconds"`
}

type RegimeConfig struct {
	LockSeconds       int     `toml:"lock_seconds"`
	CacheTTLSeconds   int     `toml:"cache_ttl_seconds"`
	SpikePct          float64 `toml:"spike_pct"`          // 1h 动能覆写阈值（绝对百分比）
	ConsistencyCycles int     `toml:"consistency_cycles"` // 慢速切换需要的连续一致周期数
	FastScore         int     `toml:"fast_score"`         // |score| 达到此值立即切换
}

type JudgeConfig struct {
	ConfidenceFloor    float64 `toml:"confidence_floor"`
	OverrideConfidence float64 `toml:"override_confidence"` // 反犹豫覆写的单票门槛
	HedgeConfidence    float64 `toml:"hedge_confidence"`
	ScoreShare         float64 `toml:"score_share"` // 胜方得分占比下限
	ScoreRatio         float64 `toml:"score_ratio"` // 胜方/败方得分比下限
	CooldownOverride   float64 `toml:"cooldown_override"`
	ProfilesPath       string  `toml:"profiles_path"` // 人格权重 YAML，可热更新
}

type RiskConfig struct {
	BasePositionPct    float64 `toml:"base_position_pct"`
	MinPositionPct     float64 `toml:"min_position_pct"`
	MaxPositionPct     float64 `toml:"max_position_pct"`
	MinLeverage        int     `toml:"min_leverage"`
	MaxLeverage        int     `toml:"max_leverage"`
	TPFloorRatio       float64 `toml:"tp_floor_ratio"`        // TP >= ratio * SL
	FearWidenBelow     int     `toml:"fear_widen_below"`      // 恐慌指数低于此值时 SL 放宽
	FearWidenMultiple  float64 `toml:"fear_widen_multiple"`   // SL 放宽倍数
	FearShieldBelow    int     `toml:"fear_shield_below"`     // 恐慌盾：跳过 regime 强平
	ForceStopLossPct   float64 `toml:"force_stop_loss_pct"`   // 兜底强平亏损线（负值）
	EarlyExitLossPct   float64 `toml:"early_exit_loss_pct"`   // 早退亏损线（负值）
	PeakLockTrigger    float64 `toml:"peak_lock_trigger"`     // 利润锁触发峰值
	PeakLockKeepRatio  float64 `toml:"peak_lock_keep_ratio"`  // 回撤保留比例
	RegimeExitMinHours float64 `toml:"regime_exit_min_hours"` // regime 平仓前的最短持仓
}

// TierConfig 把交易对按波动层级静态分组，驱动默认 TP/SL/持仓时限。
type TierConfig struct {
	Tier           int      `toml:"tier"`
	Symbols        []string `toml:"symbols"`
	TPPct          float64  `toml:"tp_pct"`
	SLPct          float64  `toml:"sl_pct"`
	MaxHoldHours   float64  `toml:"max_hold_hours"`
	EarlyExitHours float64  `toml:"early_exit_hours"`
	CooldownHours  float64  `toml:"cooldown_hours"`
	Leverage       int      `toml:"leverage"`
	TPCapPct       float64  `toml:"tp_cap_pct"`
}

type ProvidersConfig struct {
	Commentary CommentaryConfig `toml:"commentary"`
	Whale      WhaleConfig      `toml:"whale"`
	Community  CommunityConfig  `toml:"community"`
}

// CommentaryConfig 指向 OpenAI 兼容的行情点评服务（Sentiment 人格的上游）。
type CommentaryConfig struct {
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	CacheTTLMin    int    `toml:"cache_ttl_minutes"`
	RetryDelaySec  int    `toml:"retry_delay_seconds"`
}

func (c *CommentaryConfig) ResolveKey() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv("QUORUM_COMMENTARY_KEY"))
}

// WhaleConfig 指向链上大户转账查询服务。
type WhaleConfig struct {
	APIURL      string   `toml:"api_url"`
	APIKey      string   `toml:"api_key"`
	Wallets     []string `toml:"wallets"` // 被跟踪的头部钱包地址
	CacheTTLMin int      `toml:"cache_ttl_minutes"`
	TimeoutSec  int      `toml:"timeout_seconds"`
}

func (w *WhaleConfig) ResolveKey() string {
	if k := strings.TrimSpace(w.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv("QUORUM_WHALE_KEY"))
}

// CommunityConfig 指向社区情报（crowd sentiment）服务，用于与链上信号互验。
type CommunityConfig struct {
	APIURL     string `toml:"api_url"`
	APIKey     string `toml:"api_key"`
	TimeoutSec int    `toml:"timeout_seconds"`
}

func (c *CommunityConfig) ResolveKey() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv("QUORUM_COMMUNITY_KEY"))
}

type StoreConfig struct {
	DecisionLogPath string `toml:"decision_log_path"`
	TradeDBPath     string `toml:"trade_db_path"`
}

// keySet 追踪配置文件中显式设置的字段路径，用于区分“写了零值”与“没写”。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
