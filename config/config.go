package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStorePath  = "./data/raft.mdb"
	DefaultTable      = "entries"
	DefaultMaxTables  = 2
	DefaultDictPath   = "/usr/share/dict/words"
	DefaultBaseURL    = "http://127.0.0.1:3000"
	DefaultPathPrefix = "/fekv/"
	DefaultHTTPAddr   = "127.0.0.1:3000"
	DefaultRaftAddr   = "127.0.0.1:12000"
	DefaultRaftDir    = "./data"
	DefaultNodeID     = "node0"
	DefaultEngine     = "bolt"
)

// 发送失败时的处理策略
const (
	OnErrorAbort    = "abort"
	OnErrorContinue = "continue"
)

// 导出格式
const (
	FormatRaw    = "raw"
	FormatQuoted = "quoted"
)

var (
	ErrInvalidPolicy  = errors.New("invalid failure policy")
	ErrInvalidFormat  = errors.New("invalid dump format")
	ErrInvalidEngine  = errors.New("invalid storage engine")
	ErrInvalidWorkers = errors.New("workers must be at least 1")
	ErrNoTarget       = errors.New("at least one base url is required")
)

type Config struct {
	Dump   DumpConfig   `yaml:"dump"`
	Load   LoadConfig   `yaml:"load"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

type DumpConfig struct {
	StorePath string `yaml:"store_path"`
	Table     string `yaml:"table"`
	// MaxTables 声明的子表上限 bolt 没有这一限制 仅用于校验
	MaxTables int    `yaml:"max_tables"`
	Format    string `yaml:"format"`

	// LockTimeout 等待文件锁的时间 服务运行中时打开会超时
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type LoadConfig struct {
	DictPath   string        `yaml:"dict_path"`
	BaseURLs   []string      `yaml:"base_urls"`
	PathPrefix string        `yaml:"path_prefix"`
	Workers    int           `yaml:"workers"`
	OnError    string        `yaml:"on_error"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	RaftAddr string `yaml:"raft_addr"`
	RaftDir  string `yaml:"raft_dir"`
	NodeID   string `yaml:"node_id"`
	JoinAddr string `yaml:"join_addr"`
	Engine   string `yaml:"engine"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default 返回各工具的默认路径和地址
func Default() Config {
	return Config{
		Dump: DumpConfig{
			StorePath: DefaultStorePath,
			Table:     DefaultTable,
			MaxTables: DefaultMaxTables,
			Format:    FormatRaw,

			LockTimeout: time.Second,
		},
		Load: LoadConfig{
			DictPath:   DefaultDictPath,
			BaseURLs:   []string{DefaultBaseURL},
			PathPrefix: DefaultPathPrefix,
			Workers:    1,
			OnError:    OnErrorAbort,
			Timeout:    30 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr: DefaultHTTPAddr,
			RaftAddr: DefaultRaftAddr,
			RaftDir:  DefaultRaftDir,
			NodeID:   DefaultNodeID,
			Engine:   DefaultEngine,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 依次叠加: 默认值 -> YAML 文件 -> .env -> FEKV_* 环境变量
// path 为空时跳过配置文件
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// .env 不存在是正常情况
	_ = godotenv.Load(".env")

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("FEKV_STORE_PATH", &cfg.Dump.StorePath)
	str("FEKV_TABLE", &cfg.Dump.Table)
	str("FEKV_DUMP_FORMAT", &cfg.Dump.Format)
	str("FEKV_DICT_PATH", &cfg.Load.DictPath)
	str("FEKV_PATH_PREFIX", &cfg.Load.PathPrefix)
	str("FEKV_ON_ERROR", &cfg.Load.OnError)
	str("FEKV_HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("FEKV_RAFT_ADDR", &cfg.Server.RaftAddr)
	str("FEKV_RAFT_DIR", &cfg.Server.RaftDir)
	str("FEKV_NODE_ID", &cfg.Server.NodeID)
	str("FEKV_JOIN_ADDR", &cfg.Server.JoinAddr)
	str("FEKV_ENGINE", &cfg.Server.Engine)
	str("FEKV_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("FEKV_BASE_URL"); ok && v != "" {
		cfg.Load.BaseURLs = splitList(v)
	}
	if v, ok := lookup("FEKV_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "FEKV_WORKERS")
		}
		cfg.Load.Workers = n
	}
	if v, ok := lookup("FEKV_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "FEKV_TIMEOUT")
		}
		cfg.Load.Timeout = d
	}
	if v, ok := lookup("FEKV_LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "FEKV_LOG_JSON")
		}
		cfg.Log.JSON = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	if err := c.Dump.Validate(); err != nil {
		return err
	}
	if err := c.Load.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}

func (c DumpConfig) Validate() error {
	switch c.Format {
	case FormatRaw, FormatQuoted:
		return nil
	default:
		return errors.Wrapf(ErrInvalidFormat, "%q", c.Format)
	}
}

func (c LoadConfig) Validate() error {
	if len(c.BaseURLs) == 0 {
		return ErrNoTarget
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	switch c.OnError {
	case OnErrorAbort, OnErrorContinue:
		return nil
	default:
		return errors.Wrapf(ErrInvalidPolicy, "%q", c.OnError)
	}
}

func (c ServerConfig) Validate() error {
	switch c.Engine {
	case "bolt", "lsm", "leveldb", "mem":
		return nil
	default:
		return errors.Wrapf(ErrInvalidEngine, "%q", c.Engine)
	}
}
