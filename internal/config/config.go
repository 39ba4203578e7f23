package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crucible-bench/crucible/internal/evaluate"
)

type Config struct {
	Frameworks []Framework `yaml:"frameworks"`
	UseCases   []UseCase   `yaml:"use_cases"`
	Run        Run         `yaml:"run"`
	Pricing    Pricing     `yaml:"pricing"`
	Datasets   Datasets    `yaml:"datasets"`
	Results    Results     `yaml:"results"`
}

// Framework declares one system under test. Exactly one of Command or
// Image selects the adapter: a host executable or a container image.
type Framework struct {
	Name     string            `yaml:"name"`
	Command  []string          `yaml:"command,omitempty"`
	Image    string            `yaml:"image,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	WorkDir  string            `yaml:"work_dir,omitempty"`
	CPULimit float64           `yaml:"cpu_limit,omitempty"`
	MemLimit int64             `yaml:"memory_limit,omitempty"`
}

type UseCase struct {
	Name        string `yaml:"name"`
	Family      string `yaml:"family,omitempty"`
	Repetitions int    `yaml:"repetitions,omitempty"`
}

// EvaluatorFamily is the scoring family for the use case; it defaults
// to the use-case name.
func (u UseCase) EvaluatorFamily() string {
	if u.Family != "" {
		return u.Family
	}
	return u.Name
}

type Run struct {
	Repetitions        int `yaml:"repetitions"`
	Concurrency        int `yaml:"concurrency"`
	CellTimeoutSeconds int `yaml:"cell_timeout_seconds"`
	GraceSeconds       int `yaml:"grace_period_seconds"`
	RetryBudget        int `yaml:"retry_budget"`
	BackoffInitialMS   int `yaml:"backoff_initial_ms"`
	SamplingIntervalMS int `yaml:"sampling_interval_ms"`
	MaxAgeDays         int `yaml:"freshness_max_age_days"`
}

func (r Run) CellTimeout() time.Duration      { return time.Duration(r.CellTimeoutSeconds) * time.Second }
func (r Run) GracePeriod() time.Duration      { return time.Duration(r.GraceSeconds) * time.Second }
func (r Run) BackoffInitial() time.Duration   { return time.Duration(r.BackoffInitialMS) * time.Millisecond }
func (r Run) SamplingInterval() time.Duration { return time.Duration(r.SamplingIntervalMS) * time.Millisecond }

type Pricing struct {
	RateCard string `yaml:"rate_card"`
}

type Datasets struct {
	Dir string `yaml:"dir"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Frameworks) == 0 {
		return fmt.Errorf("no frameworks defined")
	}
	for i, f := range cfg.Frameworks {
		if f.Name == "" {
			return fmt.Errorf("framework %d: name is required", i)
		}
		if len(f.Command) == 0 && f.Image == "" {
			return fmt.Errorf("framework %q: command or image is required", f.Name)
		}
		if len(f.Command) > 0 && f.Image != "" {
			return fmt.Errorf("framework %q: command and image are mutually exclusive", f.Name)
		}
	}
	if len(cfg.UseCases) == 0 {
		return fmt.Errorf("no use cases defined")
	}
	for i := range cfg.UseCases {
		u := &cfg.UseCases[i]
		if u.Name == "" {
			return fmt.Errorf("use case %d: name is required", i)
		}
		if _, ok := evaluate.ForUseCase(u.EvaluatorFamily()); !ok {
			return fmt.Errorf("use case %q: unknown evaluator family %q", u.Name, u.EvaluatorFamily())
		}
		if u.Repetitions == 0 {
			u.Repetitions = cfg.Run.Repetitions
		}
		if u.Repetitions < 1 {
			u.Repetitions = 1
		}
	}
	if cfg.Run.Concurrency == 0 {
		cfg.Run.Concurrency = 2
	}
	if cfg.Run.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if cfg.Run.CellTimeoutSeconds == 0 {
		cfg.Run.CellTimeoutSeconds = 300
	}
	if cfg.Run.CellTimeoutSeconds < 1 {
		return fmt.Errorf("cell timeout must be at least 1 second")
	}
	if cfg.Run.GraceSeconds == 0 {
		cfg.Run.GraceSeconds = 10
	}
	if cfg.Run.RetryBudget < 0 {
		return fmt.Errorf("retry budget cannot be negative")
	}
	if cfg.Run.BackoffInitialMS == 0 {
		cfg.Run.BackoffInitialMS = 1000
	}
	if cfg.Run.SamplingIntervalMS == 0 {
		cfg.Run.SamplingIntervalMS = 100
	}
	if cfg.Pricing.RateCard == "" {
		return fmt.Errorf("pricing rate_card is required")
	}
	if cfg.Datasets.Dir == "" {
		return fmt.Errorf("datasets dir is required")
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}
