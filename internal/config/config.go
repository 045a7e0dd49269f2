package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Config struct {
	HTTPAddr  string       `yaml:"http_addr"`
	MySQLDSN  string       `yaml:"mysql_dsn"`
	RedisAddr string       `yaml:"redis_addr"`
	Sites     []SiteConfig `yaml:"sites"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		MySQLDSN:  "root:root@tcp(localhost:3306)/stockledger?parseTime=true",
		RedisAddr: "localhost:6379",
	}
}

// Load reads the YAML config at path on top of defaults, then applies env
// overrides (HTTP_ADDR, MYSQL_DSN, REDIS_ADDR). An empty path means defaults
// and env only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQLDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	return cfg, nil
}
