package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses yaml values like "45s" or "3m"; a bare number is seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		// Driver selects the repository backend: sqlite (default,
		// client-resident), mysql, or postgres.
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"` // sqlite file

		Database struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Name     string `yaml:"name"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"database"`
	} `yaml:"store"`

	Analysis struct {
		APIKey  string   `yaml:"apiKey"`
		Model   string   `yaml:"model"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"analysis"`

	Verification struct {
		Endpoint string   `yaml:"endpoint"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"verification"`

	Artifacts struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"artifacts"`

	Observer struct {
		Interval     Duration `yaml:"interval"`
		InitialDelay Duration `yaml:"initialDelay"`
		SampleLimit  int      `yaml:"sampleLimit"`
		MinSample    int      `yaml:"minSample"`
	} `yaml:"observer"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Load baca file config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config usable without a file on disk.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8790
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "vigil.db"
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = Duration(45 * time.Second)
	}
	if c.Verification.Timeout == 0 {
		c.Verification.Timeout = Duration(20 * time.Second)
	}
	if c.Observer.Interval == 0 {
		c.Observer.Interval = Duration(20 * time.Second)
	}
	if c.Observer.InitialDelay == 0 {
		c.Observer.InitialDelay = Duration(3 * time.Second)
	}
	if c.Observer.SampleLimit == 0 {
		c.Observer.SampleLimit = 5000
	}
	if c.Observer.MinSample == 0 {
		c.Observer.MinSample = 50
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 30
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Store.Database.User,
		c.Store.Database.Password,
		c.Store.Database.Host,
		c.Store.Database.Port,
		c.Store.Database.Name,
	)
}

// PostgresDSN builds the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	sslmode := c.Store.Database.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Store.Database.Host,
		c.Store.Database.Port,
		c.Store.Database.User,
		c.Store.Database.Password,
		c.Store.Database.Name,
		sslmode,
	)
}
