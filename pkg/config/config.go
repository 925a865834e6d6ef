package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/logger"
)

// APIConfig 远端交易 API 配置
type APIConfig struct {
	Host          string        // REST 地址，例如 https://lt.example.com
	WSHost        string        // WebSocket 地址，例如 wss://lt.example.com
	Locale        string        // 会话语言
	Denomination  string        // 法币计价单位
	Timeout       time.Duration // 单次请求超时
	RetryCount    int           // GET 请求的传输层重试次数
	RatePerSecond float64       // 请求速率上限（<=0 表示不限速）
	Burst         int
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	DataDir       string // 数据根目录，其余相对路径以此为基准
	TradeDBPath   string // 交易会话 SQLite 文件
	PrefsPath     string // 偏好 JSON 文件
	PushPrefsPath string // 推送注册偏好 JSON 文件（独立命名空间）
	WalletPath    string // badger 钱包目录
	WalletKey     string // badger 加密密钥（base64 或 hex，32 字节）
}

// ManagerConfig 请求执行器与观察者配置
type ManagerConfig struct {
	MaxSessionRetries    int           // INVALID_SESSION 时单个请求的最大重新入队次数
	SubscriberWarnLimit  int           // 订阅者数量超过该值时输出泄漏告警
	ObserverBuffer       int           // 每个观察者 Dispatcher 的缓冲长度
	TraderInfoTTL        time.Duration // TraderInfo 缓存时间
	AppVersion           int           // 当前客户端版本（推送注册失效判断）
	StopTimeout          time.Duration // 优雅关闭等待时间
	DefaultLocation      domain.GpsLocation
	MonitorReconnectWait time.Duration // 监控 WebSocket 断线重连间隔
}

// Config 完整配置
type Config struct {
	API          APIConfig
	Storage      StorageConfig
	Manager      ManagerConfig
	Log          logger.Config
	ControlAddr  string // 本地控制接口监听地址（空则不启动）
	MetricsAddr  string // expvar 监听地址（空则不启动）
	ControlToken string // 控制接口 Bearer token（可选）
}

// ConfigFile 配置文件结构（用于 YAML 解析）
type ConfigFile struct {
	API struct {
		Host           string  `yaml:"host"`
		WSHost         string  `yaml:"ws_host"`
		Locale         string  `yaml:"locale"`
		Denomination   string  `yaml:"denomination"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RetryCount     int     `yaml:"retry_count"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"api"`
	Storage struct {
		DataDir       string `yaml:"data_dir"`
		TradeDBPath   string `yaml:"trade_db_path"`
		PrefsPath     string `yaml:"prefs_path"`
		PushPrefsPath string `yaml:"push_prefs_path"`
		WalletPath    string `yaml:"wallet_path"`
		WalletKey     string `yaml:"wallet_key"`
	} `yaml:"storage"`
	Manager struct {
		MaxSessionRetries     int                 `yaml:"max_session_retries"`
		SubscriberWarnLimit   int                 `yaml:"subscriber_warn_limit"`
		ObserverBuffer        int                 `yaml:"observer_buffer"`
		TraderInfoTTLSeconds  int                 `yaml:"trader_info_ttl_seconds"`
		AppVersion            int                 `yaml:"app_version"`
		StopTimeoutSeconds    int                 `yaml:"stop_timeout_seconds"`
		DefaultLocation       *domain.GpsLocation `yaml:"default_location"`
		MonitorReconnectMilli int                 `yaml:"monitor_reconnect_ms"`
	} `yaml:"manager"`
	Log          logger.Config `yaml:"log"`
	ControlAddr  string        `yaml:"control_addr"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	ControlToken string        `yaml:"control_token"`
}

// DefaultLocation 未设置位置时使用的默认坐标
var DefaultLocation = domain.GpsLocation{Latitude: 0, Longitude: 0, Name: ""}

// Load 从 YAML 文件加载配置（filePath 为空则只用环境变量与默认值）
// 优先级：环境变量 > 配置文件 > 默认值
func Load(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cf = loaded
	}

	dataDir := getEnv("LT_DATA_DIR", orString(cf.Storage.DataDir, "data"))
	loc := DefaultLocation
	if cf.Manager.DefaultLocation != nil {
		loc = *cf.Manager.DefaultLocation
	}
	loc.Latitude = parseFloatEnv("LT_DEFAULT_LATITUDE", loc.Latitude)
	loc.Longitude = parseFloatEnv("LT_DEFAULT_LONGITUDE", loc.Longitude)
	loc.Name = getEnv("LT_DEFAULT_LOCATION_NAME", loc.Name)

	c := &Config{
		API: APIConfig{
			Host:          getEnv("LT_API_HOST", orString(cf.API.Host, "http://127.0.0.1:8080")),
			WSHost:        getEnv("LT_WS_HOST", cf.API.WSHost),
			Locale:        getEnv("LT_LOCALE", orString(cf.API.Locale, "en_US")),
			Denomination:  getEnv("LT_DENOMINATION", orString(cf.API.Denomination, "USD")),
			Timeout:       time.Duration(parseIntEnv("LT_API_TIMEOUT_SECONDS", orInt(cf.API.TimeoutSeconds, 15))) * time.Second,
			RetryCount:    parseIntEnv("LT_API_RETRY_COUNT", orInt(cf.API.RetryCount, 2)),
			RatePerSecond: parseFloatEnv("LT_API_RATE_PER_SECOND", orFloat(cf.API.RatePerSecond, 5)),
			Burst:         parseIntEnv("LT_API_BURST", orInt(cf.API.Burst, 5)),
		},
		Storage: StorageConfig{
			DataDir:       dataDir,
			TradeDBPath:   resolvePath(dataDir, getEnv("LT_TRADE_DB_PATH", orString(cf.Storage.TradeDBPath, "trade_sessions.db"))),
			PrefsPath:     resolvePath(dataDir, getEnv("LT_PREFS_PATH", orString(cf.Storage.PrefsPath, "localtrader.json"))),
			PushPrefsPath: resolvePath(dataDir, getEnv("LT_PUSH_PREFS_PATH", orString(cf.Storage.PushPrefsPath, "localtrader_push.json"))),
			WalletPath:    resolvePath(dataDir, getEnv("LT_WALLET_PATH", orString(cf.Storage.WalletPath, "wallet"))),
			WalletKey:     getEnv("LT_WALLET_KEY", cf.Storage.WalletKey),
		},
		Manager: ManagerConfig{
			MaxSessionRetries:    parseIntEnv("LT_MAX_SESSION_RETRIES", orInt(cf.Manager.MaxSessionRetries, 3)),
			SubscriberWarnLimit:  parseIntEnv("LT_SUBSCRIBER_WARN_LIMIT", orInt(cf.Manager.SubscriberWarnLimit, 5)),
			ObserverBuffer:       parseIntEnv("LT_OBSERVER_BUFFER", orInt(cf.Manager.ObserverBuffer, 64)),
			TraderInfoTTL:        time.Duration(parseIntEnv("LT_TRADER_INFO_TTL_SECONDS", orInt(cf.Manager.TraderInfoTTLSeconds, 300))) * time.Second,
			AppVersion:           parseIntEnv("LT_APP_VERSION", orInt(cf.Manager.AppVersion, 1)),
			StopTimeout:          time.Duration(parseIntEnv("LT_STOP_TIMEOUT_SECONDS", orInt(cf.Manager.StopTimeoutSeconds, 10))) * time.Second,
			DefaultLocation:      loc,
			MonitorReconnectWait: time.Duration(parseIntEnv("LT_MONITOR_RECONNECT_MS", orInt(cf.Manager.MonitorReconnectMilli, 3000))) * time.Millisecond,
		},
		Log: logger.Config{
			Level:      getEnv("LOG_LEVEL", orString(cf.Log.Level, "info")),
			OutputFile: getEnv("LOG_FILE", cf.Log.OutputFile),
			MaxSize:    orInt(cf.Log.MaxSize, 100),
			MaxBackups: orInt(cf.Log.MaxBackups, 3),
			MaxAge:     orInt(cf.Log.MaxAge, 7),
			Compress:   cf.Log.Compress,
			JSON:       parseBoolEnv("LOG_JSON", cf.Log.JSON),
		},
		ControlAddr:  getEnv("LT_CONTROL_ADDR", cf.ControlAddr),
		MetricsAddr:  getEnv("LT_METRICS_ADDR", cf.MetricsAddr),
		ControlToken: getEnv("LT_CONTROL_TOKEN", cf.ControlToken),
	}
	if c.API.WSHost == "" {
		c.API.WSHost = deriveWSHost(c.API.Host)
	}
	return c, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.Host) == "" {
		return fmt.Errorf("LT_API_HOST 未配置")
	}
	if !strings.HasPrefix(c.API.Host, "http://") && !strings.HasPrefix(c.API.Host, "https://") {
		return fmt.Errorf("LT_API_HOST 必须以 http:// 或 https:// 开头: %s", c.API.Host)
	}
	if c.Manager.MaxSessionRetries < 0 {
		return fmt.Errorf("LT_MAX_SESSION_RETRIES 不能为负数")
	}
	if c.Manager.ObserverBuffer <= 0 {
		return fmt.Errorf("LT_OBSERVER_BUFFER 必须大于 0")
	}
	if c.Storage.WalletPath == "" {
		return fmt.Errorf("LT_WALLET_PATH 未配置")
	}
	if lat := c.Manager.DefaultLocation.Latitude; lat < -90 || lat > 90 {
		return fmt.Errorf("默认纬度超出范围: %v", lat)
	}
	if lon := c.Manager.DefaultLocation.Longitude; lon < -180 || lon > 180 {
		return fmt.Errorf("默认经度超出范围: %v", lon)
	}
	return nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}
	return &cf, nil
}

// deriveWSHost http(s)://host -> ws(s)://host
func deriveWSHost(host string) string {
	switch {
	case strings.HasPrefix(host, "https://"):
		return "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		return "ws://" + strings.TrimPrefix(host, "http://")
	default:
		return host
	}
}

func resolvePath(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) || dataDir == "" {
		return p
	}
	return filepath.Join(dataDir, p)
}

func orString(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
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
