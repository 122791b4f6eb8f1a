// internal/service/config.go
package service

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"App"`
	Server  ServerConfig  `mapstructure:"Server"`
	Feed    FeedConfig    `mapstructure:"Feed"`
	Storage StorageConfig `mapstructure:"Storage"`
	Ingest  IngestConfig  `mapstructure:"Ingest"`
	Hub     HubConfig     `mapstructure:"Hub"`
	Query   QueryConfig   `mapstructure:"Query"`
}

type AppConfig struct {
	Name     string
	LogLevel string
}

// ServerConfig 定义了查询 API 与推送通道的监听信息
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// FeedConfig 定义了上游行情源 (MT5 bridge 或本地模拟器)
type FeedConfig struct {
	Mode           string // bridge | simulator
	Symbol         string // 上游品种代码，例如 XAUUSD.iux
	WSURL          string // bridge 报价推送地址
	RESTURL        string // bridge 历史 K 线地址
	StaleAfter     time.Duration
	RequestTimeout time.Duration
	SimStart       float64
	SimStep        float64
	SimInterval    time.Duration
}

// StorageConfig 定义了按日分区文件的位置
type StorageConfig struct {
	Dir        string
	Instrument string // 分区文件名后缀，例如 XAUUSD
}

type IngestConfig struct {
	PollInterval time.Duration
}

type HubConfig struct {
	SnapshotCandles int
	SendBuffer      int
	WriteTimeout    time.Duration
}

// QueryConfig 定义了查询接口的默认参数
type QueryConfig struct {
	HistoryLimit int
	OHLCCount    int
	ZoneBars     int
}

const (
	FeedModeBridge    = "bridge"
	FeedModeSimulator = "simulator"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("App.Name", "footprint-flow")
	v.SetDefault("App.LogLevel", "info")

	v.SetDefault("Server.Addr", "127.0.0.1:8000")
	v.SetDefault("Server.ShutdownTimeout", 5*time.Second)

	v.SetDefault("Feed.Mode", FeedModeBridge)
	v.SetDefault("Feed.Symbol", "XAUUSD.iux")
	v.SetDefault("Feed.WSURL", "ws://127.0.0.1:8765/ticks")
	v.SetDefault("Feed.RESTURL", "http://127.0.0.1:8765")
	v.SetDefault("Feed.StaleAfter", 30*time.Second)
	v.SetDefault("Feed.RequestTimeout", 8*time.Second)
	v.SetDefault("Feed.SimStart", 2000.0)
	v.SetDefault("Feed.SimStep", 0.05)
	v.SetDefault("Feed.SimInterval", 250*time.Millisecond)

	v.SetDefault("Storage.Dir", "data")
	v.SetDefault("Storage.Instrument", "XAUUSD")

	v.SetDefault("Ingest.PollInterval", 10*time.Millisecond)

	v.SetDefault("Hub.SnapshotCandles", 30)
	v.SetDefault("Hub.SendBuffer", 256)
	v.SetDefault("Hub.WriteTimeout", 5*time.Second)

	v.SetDefault("Query.HistoryLimit", 50)
	v.SetDefault("Query.OHLCCount", 1000)
	v.SetDefault("Query.ZoneBars", 100)
}

// LoadConfig 读取并解析配置文件
// 配置文件可选: 缺失时使用默认值；环境变量 FOOTPRINT_<SECTION>_<KEY> 覆盖文件
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load() // .env 可选

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("FOOTPRINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的取值范围
func (c *Config) Validate() error {
	switch c.Feed.Mode {
	case FeedModeBridge, FeedModeSimulator:
	default:
		return errors.Errorf("unknown feed mode %q", c.Feed.Mode)
	}
	if c.Ingest.PollInterval <= 0 {
		return errors.New("Ingest.PollInterval must be positive")
	}
	if c.Storage.Dir == "" || c.Storage.Instrument == "" {
		return errors.New("Storage.Dir and Storage.Instrument are required")
	}
	if c.Hub.SnapshotCandles <= 0 || c.Hub.SendBuffer <= 0 {
		return errors.New("Hub.SnapshotCandles and Hub.SendBuffer must be positive")
	}
	return nil
}
