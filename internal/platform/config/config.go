package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 定义了应用程序的所有配置项，与 config.yaml 的结构一一对应
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
}

// ServerConfig 定义了HTTP服务器相关的配置
type ServerConfig struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Address         string        `mapstructure:"address" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" validate:"gt=0"`
	Cors            CorsConfig    `mapstructure:"cors"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DatabaseConfig 定义了关系型数据库的配置
type DatabaseConfig struct {
	// Driver 可选 sqlite 或 postgres
	Driver       string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	// MaxOpenConns 为 0 表示使用驱动默认值；SQLite 只允许 0 或 1
	MaxOpenConns int    `mapstructure:"maxOpenConns" validate:"gte=0"`
	LogQueries   bool   `mapstructure:"logQueries"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	PageTTL  time.Duration `mapstructure:"pageTTL" validate:"gt=0"`
}

// AuthConfig 定义了身份令牌相关的配置
type AuthConfig struct {
	// JWTSecret 为空时启动时会生成随机密钥，重启后旧令牌全部失效
	JWTSecret string        `mapstructure:"jwtSecret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL" validate:"gt=0"`
	AdminIDs  []string      `mapstructure:"adminIDs"`
}

// RankingConfig 定义了评分与排行榜相关的配置
type RankingConfig struct {
	PriorMean        float64       `mapstructure:"priorMean"`
	PriorWeight      float64       `mapstructure:"priorWeight" validate:"gt=0"`
	MinScore         int           `mapstructure:"minScore"`
	MaxScore         int           `mapstructure:"maxScore" validate:"gtfield=MinScore"`
	DefaultPageSize  int           `mapstructure:"defaultPageSize" validate:"gt=0"`
	MaxPageSize      int           `mapstructure:"maxPageSize" validate:"gtefield=DefaultPageSize"`
	VoteTimeout      time.Duration `mapstructure:"voteTimeout" validate:"gt=0"`
	RebuildOnStartup bool          `mapstructure:"rebuildOnStartup"`
	// RebuildCron 为空表示不启用定时重算，格式同标准 cron 五段式
	RebuildCron string `mapstructure:"rebuildCron"`
}

// LimiterConfig 定义了按IP限制投票频率的配置
type LimiterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	VotesPerWindow int64         `mapstructure:"votesPerWindow" validate:"gt=0"`
	Window         time.Duration `mapstructure:"window" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ranking.db")
	v.SetDefault("database.maxOpenConns", 0)
	v.SetDefault("database.logQueries", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pageTTL", 5*time.Minute)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.issuer", "mcbattle")
	v.SetDefault("auth.adminIDs", []string{})
	v.SetDefault("auth.tokenTTL", 7*24*time.Hour)

	v.SetDefault("ranking.priorMean", 10.0)
	v.SetDefault("ranking.priorWeight", 10.0)
	v.SetDefault("ranking.minScore", 1)
	v.SetDefault("ranking.maxScore", 20)
	v.SetDefault("ranking.defaultPageSize", 20)
	v.SetDefault("ranking.maxPageSize", 100)
	v.SetDefault("ranking.voteTimeout", 15*time.Second)
	v.SetDefault("ranking.rebuildOnStartup", false)
	v.SetDefault("ranking.rebuildCron", "")

	v.SetDefault("limiter.enabled", true)
	v.SetDefault("limiter.votesPerWindow", 200)
	v.SetDefault("limiter.window", 24*time.Hour)
}

// LoadConfig 加载 .env、config.yaml 与环境变量，并校验结果。
// 未提供 paths 时在 ./config 和 . 中查找 config.yaml；找不到文件时只使用默认值和环境变量。
func LoadConfig(paths ...string) (*Config, error) {
	// .env 是可选的，只用于本地开发
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 允许通过环境变量覆盖配置，例如 DATABASE_DSN、RANKING_PRIORWEIGHT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate 校验配置中的取值范围以及字段间的约束
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	// SQLite 的投票事务依赖单连接串行执行，FOR UPDATE 在 SQLite 上不生效
	if c.Database.Driver == "sqlite" && c.Database.MaxOpenConns > 1 {
		return fmt.Errorf("配置无效: sqlite 驱动的 database.maxOpenConns 只能为 0 或 1，当前为 %d", c.Database.MaxOpenConns)
	}
	r := c.Ranking
	if r.PriorMean < float64(r.MinScore) || r.PriorMean > float64(r.MaxScore) {
		return fmt.Errorf("配置无效: ranking.priorMean=%v 不在评分范围 [%d, %d] 内", r.PriorMean, r.MinScore, r.MaxScore)
	}
	return nil
}
