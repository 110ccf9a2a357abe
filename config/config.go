package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server Server `yaml:"server"`
}

type Server struct {
	// Scheduler selects the batch scheduler family: "sge" or "slurm".
	Scheduler  string     `yaml:"scheduler"`
	Monitor    Monitor    `yaml:"monitor"`
	Accounting Accounting `yaml:"accounting"`
	Slurmdb    Slurmdb    `yaml:"slurmdb"`
	Notify     Notify     `yaml:"notify"`
}

type Monitor struct {
	// Interval between polling passes, e.g. "5s".
	Interval string `yaml:"interval"`
	// KillErrored controls whether jobs stuck in error state are deleted
	// after a monitoring run drains.
	KillErrored bool `yaml:"killErrored"`
}

type Accounting struct {
	// Owner is the username accounting records must match during completion
	// validation. Empty means the current process user.
	Owner string `yaml:"owner"`
	// MaxAgeDays is the maximum allowed age of an accounting record.
	// Unset means 7 days; an explicit 0 disables age filtering.
	MaxAgeDays *int `yaml:"maxAgeDays"`
	// UseSlurmdb switches the slurm family to validate completion against
	// the slurmdbd database instead of command line accounting.
	UseSlurmdb bool `yaml:"useSlurmdb"`
}

type Slurmdb struct {
	ClusterName     string `yaml:"ClusterName"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	Charset         string `yaml:"charset"`
	ParseTime       bool   `yaml:"parseTime"`
	Loc             string `yaml:"loc"`
	TLS             string `yaml:"tls"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
}

type Notify struct {
	// Enabled turns on email notification after monitoring runs.
	Enabled bool `yaml:"enabled"`
	// Recipients is the mutt recipient list, e.g.
	// "one@example.org, two@example.org".
	Recipients string `yaml:"recipients"`
	// ReplyTo is exported as EMAIL for mutt so replies land somewhere useful.
	ReplyTo string `yaml:"replyTo"`
}

// Load reads a YAML config file from the given path and unmarshals into Config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Scheduler {
	case "", "sge", "slurm":
	default:
		return fmt.Errorf("unsupported scheduler family: %s", c.Server.Scheduler)
	}
	return nil
}
