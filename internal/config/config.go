// Package config 读取可选的 procman.toml / procman.yaml 配置文件。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Candidates 是未指定 --config 时在工作目录中依次查找的文件
var Candidates = []string{"procman.toml", "procman.yaml", "procman.yml"}

// Config 是配置文件的内容，命令行参数会覆盖这里的值
type Config struct {
	Procfile    string         `toml:"procfile" yaml:"procfile"`
	Env         []string       `toml:"env" yaml:"env"`
	Root        string         `toml:"root" yaml:"root"` // 子进程工作目录，默认为进程列表所在目录
	Concurrency map[string]int `toml:"concurrency" yaml:"concurrency"`
	Color       string         `toml:"color" yaml:"color"` // auto | always | never
	LogLevel    string         `toml:"log_level" yaml:"log_level"`
	Watch       WatchConfig    `toml:"watch" yaml:"watch"`
}

// WatchConfig 对应 [watch] 段
type WatchConfig struct {
	Patterns     []string `toml:"patterns" yaml:"patterns"`
	Mode         string   `toml:"mode" yaml:"mode"` // notify | poll
	Match        string   `toml:"match" yaml:"match"`
	Ignore       []string `toml:"ignore" yaml:"ignore"`
	Debounce     Duration `toml:"debounce" yaml:"debounce"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Procfile: "Procfile",
		Color:    "auto",
		LogLevel: "info",
		Watch: WatchConfig{
			Mode:         "notify",
			Match:        "*.go",
			Ignore:       []string{".*", "node_modules"},
			Debounce:     Duration(250 * time.Millisecond),
			PollInterval: Duration(time.Second),
		},
	}
}

// Find 返回 dir 中第一个存在的候选配置文件，没有时返回空字符串
func Find(dir string) string {
	for _, name := range Candidates {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load 读取配置文件，按扩展名选择 YAML 或 TOML，未出现的键保持默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查枚举值，并把轮询间隔限制在 1s 以上
func (c *Config) Validate() error {
	switch c.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color %q (want auto, always or never)", c.Color)
	}
	switch c.Watch.Mode {
	case "", "notify", "poll":
	default:
		return fmt.Errorf("invalid watch mode %q (want notify or poll)", c.Watch.Mode)
	}
	for name, n := range c.Concurrency {
		if n < 0 {
			return fmt.Errorf("negative concurrency for %q", name)
		}
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("negative debounce %s", c.Watch.Debounce)
	}
	if c.Watch.PollInterval.D() < time.Second {
		c.Watch.PollInterval = Duration(time.Second)
	}
	return nil
}

// Duration 以 "250ms"、"1s" 这样的字符串出现在配置文件中
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText 供 TOML 解码使用
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText 供 TOML 编码使用
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML 供 YAML 解码使用
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
