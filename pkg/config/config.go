package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/feedback"
	"github.com/betbot/stockpilot/internal/health"
	"github.com/betbot/stockpilot/internal/schedule"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BrokerConfig 执行端配置
type BrokerConfig struct {
	Mode        string  // paper | bridge
	BridgeURL   string  // bridge 模式：券商桥接服务地址
	APIKey      string  // bridge 模式：鉴权
	StopLossPct float64 // 买入时附带的止损百分比（0 表示不带止损）
}

// Config 应用配置
type Config struct {
	LogLevel  string // 日志级别
	LogDir    string // 日志目录（按交易日命名文件）
	LogToFile bool

	DatabasePath string // learning store（sqlite）
	StateDir     string // 运行状态（badger）
	StateKey     string // 运行状态加密 key（hex，可选）
	Timezone     string // 交易所时区

	Capital decimal.Decimal // 总资金（计算已部署比例）
	DryRun  bool            // 只记录不下单

	Policy    domain.PolicyThresholds // v1 默认阈值（库里已有版本时不生效）
	Feedback  feedback.Params
	Health    health.Weights
	Intervals map[schedule.Window]time.Duration

	CallTimeout          time.Duration // 单次外部调用超时
	PersistTimeout       time.Duration // 单次写库超时
	Concurrency          int           // 并发评估上限
	MaxConsecutiveErrors int           // 连续执行失败熔断阈值

	ResearchFile   string        // 候选 YAML
	ResearchMaxAge time.Duration // 候选文件最大年龄，环境变量显式设 0 表示不检查
	CalendarFile   string        // 催化剂/目标价 YAML
	Broker         BrokerConfig
	NotifyWebhook  string // 告警 webhook（可选）
	HTTPAddr       string // 状态 API 监听地址（空则不启动）
	DebugAddr      string // metrics/pprof 调试端口（空则不启动）
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	LogLevel             string `yaml:"log_level" json:"log_level"`
	LogDir               string `yaml:"log_dir" json:"log_dir"`
	LogToFile            *bool  `yaml:"log_to_file" json:"log_to_file"`
	DatabasePath         string `yaml:"database_path" json:"database_path"`
	StateDir             string `yaml:"state_dir" json:"state_dir"`
	StateKey             string `yaml:"state_key" json:"state_key"`
	Timezone             string `yaml:"timezone" json:"timezone"`
	Capital              string `yaml:"capital" json:"capital"`
	DryRun               *bool  `yaml:"dry_run" json:"dry_run"`
	CallTimeoutSeconds   int    `yaml:"call_timeout_seconds" json:"call_timeout_seconds"`
	PersistTimeoutSecs   int    `yaml:"persist_timeout_seconds" json:"persist_timeout_seconds"`
	Concurrency          int    `yaml:"concurrency" json:"concurrency"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	ResearchFile         string `yaml:"research_file" json:"research_file"`
	ResearchMaxAgeMins   int    `yaml:"research_max_age_minutes" json:"research_max_age_minutes"`
	CalendarFile         string `yaml:"calendar_file" json:"calendar_file"`
	NotifyWebhook        string `yaml:"notify_webhook" json:"notify_webhook"`
	HTTPAddr             string `yaml:"http_addr" json:"http_addr"`
	DebugAddr            string `yaml:"debug_addr" json:"debug_addr"`
	Broker               struct {
		Mode        string  `yaml:"mode" json:"mode"`
		BridgeURL   string  `yaml:"bridge_url" json:"bridge_url"`
		APIKey      string  `yaml:"api_key" json:"api_key"`
		StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	} `yaml:"broker" json:"broker"`
	// 以下三段预先填入默认值，文件里只需写要覆盖的键
	Policy           domain.PolicyThresholds `yaml:"policy" json:"policy"`
	Feedback         feedback.Params         `yaml:"feedback" json:"feedback"`
	Health           health.Weights          `yaml:"health" json:"health"`
	IntervalsSeconds map[string]int          `yaml:"intervals_seconds" json:"intervals_seconds"`
}

func defaultConfigFile() *ConfigFile {
	return &ConfigFile{
		Policy:   domain.DefaultThresholds(),
		Feedback: feedback.DefaultParams(),
		Health:   health.DefaultWeights(),
	}
}

// defaultResearchMaxAgeMins 与盘前最长扫描间隔一致，超过一个间隔没更新的候选视为过期
const defaultResearchMaxAgeMins = 30

// Load 加载配置：配置文件 > 环境变量 > 默认值。filePath 为空时只用环境变量与默认值。
func Load(filePath string) (*Config, error) {
	cf := defaultConfigFile()
	if strings.TrimSpace(filePath) != "" {
		if err := loadConfigFile(filePath, cf); err != nil {
			return nil, &domain.ConfigurationError{Field: "config", Reason: err.Error()}
		}
	}

	c := &Config{
		LogLevel:             getValueFromSources(cf.LogLevel, getEnv("LOG_LEVEL", "info")),
		LogDir:               getValueFromSources(cf.LogDir, getEnv("LOG_DIR", "logs")),
		LogToFile:            getBoolFromSources(cf.LogToFile, parseBoolEnv("LOG_TO_FILE", true)),
		DatabasePath:         getValueFromSources(cf.DatabasePath, getEnv("DB_PATH", "data/stockpilot.db")),
		StateDir:             getValueFromSources(cf.StateDir, getEnv("STATE_DIR", "data/state")),
		StateKey:             getValueFromSources(cf.StateKey, getEnv("STATE_KEY", "")),
		Timezone:             getValueFromSources(cf.Timezone, getEnv("TIMEZONE", "America/New_York")),
		DryRun:               getBoolFromSources(cf.DryRun, parseBoolEnv("DRY_RUN", false)),
		Policy:               cf.Policy,
		Feedback:             cf.Feedback,
		Health:               cf.Health,
		CallTimeout:          time.Duration(getIntFromSources(cf.CallTimeoutSeconds, parseIntEnv("CALL_TIMEOUT_SECONDS", 10))) * time.Second,
		PersistTimeout:       time.Duration(getIntFromSources(cf.PersistTimeoutSecs, parseIntEnv("PERSIST_TIMEOUT_SECONDS", 10))) * time.Second,
		Concurrency:          getIntFromSources(cf.Concurrency, parseIntEnv("CONCURRENCY", 4)),
		MaxConsecutiveErrors: getIntFromSources(cf.MaxConsecutiveErrors, parseIntEnv("MAX_CONSECUTIVE_ERRORS", 3)),
		ResearchFile:         getValueFromSources(cf.ResearchFile, getEnv("RESEARCH_FILE", "data/candidates.yaml")),
		ResearchMaxAge:       time.Duration(getIntFromSources(cf.ResearchMaxAgeMins, parseIntEnv("RESEARCH_MAX_AGE_MINUTES", defaultResearchMaxAgeMins))) * time.Minute,
		CalendarFile:         getValueFromSources(cf.CalendarFile, getEnv("CALENDAR_FILE", "")),
		NotifyWebhook:        getValueFromSources(cf.NotifyWebhook, getEnv("NOTIFY_WEBHOOK_URL", "")),
		HTTPAddr:             getValueFromSources(cf.HTTPAddr, getEnv("HTTP_ADDR", "")),
		DebugAddr:            getValueFromSources(cf.DebugAddr, getEnv("DEBUG_ADDR", "")),
		Broker: BrokerConfig{
			Mode:        getValueFromSources(cf.Broker.Mode, getEnv("BROKER_MODE", "paper")),
			BridgeURL:   getValueFromSources(cf.Broker.BridgeURL, getEnv("BROKER_BRIDGE_URL", "")),
			APIKey:      getValueFromSources(cf.Broker.APIKey, getEnv("BROKER_API_KEY", "")),
			StopLossPct: getFloatFromSources(cf.Broker.StopLossPct, parseFloatEnv("BROKER_STOP_LOSS_PCT", 0)),
		},
	}

	capital := getValueFromSources(cf.Capital, getEnv("CAPITAL", "100000"))
	amt, err := decimal.NewFromString(strings.TrimSpace(capital))
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "capital", Reason: fmt.Sprintf("invalid amount %q", capital)}
	}
	c.Capital = amt

	c.Intervals = make(map[schedule.Window]time.Duration, len(cf.IntervalsSeconds))
	for name, secs := range cf.IntervalsSeconds {
		w, err := schedule.ParseWindow(strings.ToUpper(strings.TrimSpace(name)))
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "intervals_seconds", Reason: err.Error()}
		}
		c.Intervals[w] = time.Duration(secs) * time.Second
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），覆盖 cf 中的默认值
func loadConfigFile(filePath string, cf *ConfigFile) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cf); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cf); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// Validate 验证配置，任何问题都返回 ConfigurationError
func (c *Config) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &domain.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return bad("database_path", "不能为空")
	}
	if strings.TrimSpace(c.StateDir) == "" {
		return bad("state_dir", "不能为空")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return bad("timezone", "无法加载时区 %q", c.Timezone)
	}
	if !c.Capital.IsPositive() {
		return bad("capital", "必须大于 0")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Feedback.MinSample <= 0 {
		return bad("feedback.min_sample", "必须大于 0")
	}
	if c.Feedback.WinRateFloor < 0 || c.Feedback.WinRateCeiling > 1 || c.Feedback.WinRateFloor >= c.Feedback.WinRateCeiling {
		return bad("feedback.win_rate", "需要 0 <= floor < ceiling <= 1")
	}
	if c.Feedback.ConvMin >= c.Feedback.ConvMax || c.Feedback.VolMin >= c.Feedback.VolMax {
		return bad("feedback.bounds", "下界必须小于上界")
	}
	if c.Health.StrongAt <= c.Health.DeadMoneyAt {
		return bad("health.strong_at", "必须大于 dead_money_at")
	}
	for w, d := range c.Intervals {
		if d <= 0 {
			return bad("intervals_seconds."+string(w), "必须大于 0")
		}
	}
	if c.CallTimeout <= 0 || c.PersistTimeout <= 0 {
		return bad("timeouts", "必须大于 0")
	}
	if c.ResearchMaxAge < 0 {
		return bad("research_max_age_minutes", "不能为负")
	}
	if c.Concurrency <= 0 {
		return bad("concurrency", "必须大于 0")
	}
	switch c.Broker.Mode {
	case "paper":
	case "bridge":
		if c.Broker.BridgeURL == "" {
			return bad("broker.bridge_url", "bridge 模式必须配置")
		}
	default:
		return bad("broker.mode", "未知模式 %q (支持 paper, bridge)", c.Broker.Mode)
	}
	if c.Broker.StopLossPct < 0 || c.Broker.StopLossPct >= 100 {
		return bad("broker.stop_loss_pct", "必须在 [0,100) 之间")
	}
	return nil
}

// getValueFromSources 配置文件有值优先，否则取环境变量/默认值
func getValueFromSources(configValue, envValue string) string {
	if strings.TrimSpace(configValue) != "" {
		return configValue
	}
	return envValue
}

func getIntFromSources(configValue, envValue int) int {
	if configValue != 0 {
		return configValue
	}
	return envValue
}

func getFloatFromSources(configValue, envValue float64) float64 {
	if configValue != 0 {
		return configValue
	}
	return envValue
}

func getBoolFromSources(configValue *bool, envValue bool) bool {
	if configValue != nil {
		return *configValue
	}
	return envValue
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
