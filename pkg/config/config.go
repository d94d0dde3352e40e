package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"invest-calendar/internal/calendar/model"
)

type MongoConfig struct {
	Host       string `yaml:"host"`
	DBName     string `yaml:"dbname"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"authSource"`
}

type StorageConfig struct {
	Backend    string      `yaml:"backend"` // file | sqlite | mongo
	SQLitePath string      `yaml:"sqlite_path"`
	Mongo      MongoConfig `yaml:"mongo"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	RequestDelay time.Duration `yaml:"request_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	Listen       string        `yaml:"listen"`
}

type InvestingConfig struct {
	Workers   int           `yaml:"workers"`
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`
}

// FirstRunConfig 首次运行判定：Platforms 中至少 MinValid 个快照超过 MinBytes
type FirstRunConfig struct {
	Platforms []string `yaml:"platforms"`
	MinValid  int      `yaml:"min_valid"`
	MinBytes  int64    `yaml:"min_bytes"`
}

type TokenConfig struct {
	CLS           string `yaml:"cls"`
	CLSUID        string `yaml:"cls_uid"`
	Jiuyangongshe string `yaml:"jiuyangongshe"`
}

type Config struct {
	Timezone    string          `yaml:"timezone"`
	DataDir     string          `yaml:"data_dir"`
	Log         LogConfig       `yaml:"log"`
	Storage     StorageConfig   `yaml:"storage"`
	HTTP        HTTPConfig      `yaml:"http"`
	Investing   InvestingConfig `yaml:"investing"`
	FirstRun    FirstRunConfig  `yaml:"first_run"`
	HorizonDays map[string]int  `yaml:"horizon_days"`
	Platforms   []string        `yaml:"platforms"`
	Schedule    string          `yaml:"schedule"`
	Tokens      TokenConfig     `yaml:"tokens"`
}

// Default 全部默认值
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// LoadConfig 读取 YAML，文件不存在时使用默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize 补齐缺省值
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = c.DataDir + "/calendar.db"
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 10 * time.Second
	}
	if c.HTTP.RequestDelay < 0 {
		c.HTTP.RequestDelay = 0
	} else if c.HTTP.RequestDelay == 0 {
		c.HTTP.RequestDelay = 500 * time.Millisecond
	}
	if c.HTTP.MaxRetries <= 0 {
		c.HTTP.MaxRetries = 3
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Investing.Workers <= 0 {
		c.Investing.Workers = 5
	}
	if c.Investing.JitterMin == 0 && c.Investing.JitterMax == 0 {
		c.Investing.JitterMin = 200 * time.Millisecond
		c.Investing.JitterMax = 800 * time.Millisecond
	}
	if len(c.FirstRun.Platforms) == 0 {
		c.FirstRun.Platforms = []string{string(model.CLS), string(model.Jiuyangongshe), string(model.Tonghuashun)}
	}
	if c.FirstRun.MinValid <= 0 {
		c.FirstRun.MinValid = 2
	}
	if c.FirstRun.MinBytes <= 0 {
		c.FirstRun.MinBytes = 100
	}
	if len(c.Platforms) == 0 {
		for _, p := range model.Platforms() {
			c.Platforms = append(c.Platforms, string(p))
		}
	}
	if c.Schedule == "" {
		c.Schedule = "0 30 6 * * *"
	}
}

// Validate 检查平台名与后端类型
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite", "mongo":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	for _, list := range [][]string{c.Platforms, c.FirstRun.Platforms} {
		for _, p := range list {
			if _, ok := model.ParsePlatform(p); !ok {
				return fmt.Errorf("unknown platform: %s", p)
			}
		}
	}
	for p := range c.HorizonDays {
		if _, ok := model.ParsePlatform(p); !ok {
			return fmt.Errorf("unknown platform in horizon_days: %s", p)
		}
	}
	return nil
}

// EnabledPlatforms 按规范顺序返回启用的平台
func (c *Config) EnabledPlatforms() []model.Platform {
	enabled := map[string]bool{}
	for _, p := range c.Platforms {
		enabled[p] = true
	}
	var out []model.Platform
	for _, p := range model.Platforms() {
		if enabled[string(p)] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) FirstRunPlatforms() []model.Platform {
	out := make([]model.Platform, 0, len(c.FirstRun.Platforms))
	for _, p := range c.FirstRun.Platforms {
		out = append(out, model.Platform(p))
	}
	return out
}

func (c *Config) Horizons() map[model.Platform]int {
	out := make(map[model.Platform]int, len(c.HorizonDays))
	for p, d := range c.HorizonDays {
		out[model.Platform(p)] = d
	}
	return out
}
