package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a smoothing experiment: the ablation
// geometry, the classifier head, and the training/certification loops.
type Config struct {
	AblationSize  int    `yaml:"ablation_size"`
	SizeToCertify int    `yaml:"size_to_certify"`
	ChannelsFirst bool   `yaml:"channels_first"`
	ToReshape     bool   `yaml:"to_reshape"`
	Mode          string `yaml:"mode"`
	OriginalShape []int  `yaml:"original_shape"` // C, H, W
	OutputShape   []int  `yaml:"output_shape"`   // C, H, W; only read when to_reshape

	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	HiddenDim    int     `yaml:"hidden_dim"`
	Seed         int64   `yaml:"seed"`
	Workers      int     `yaml:"workers"`
}

// DefaultConfig returns a runnable CIFAR-scale configuration.
func DefaultConfig() *Config {
	return &Config{
		AblationSize:  4,
		SizeToCertify: 4,
		ChannelsFirst: true,
		Mode:          "vit",
		OriginalShape: []int{3, 32, 32},
		OutputShape:   []int{3, 32, 32},
		Epochs:        5,
		BatchSize:     32,
		LearningRate:  0.01,
		HiddenDim:     64,
		Seed:          42,
	}
}

// LoadConfig reads and validates a Config from a YAML file. Fields absent
// from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.AblationSize <= 0 {
		return fmt.Errorf("ablation size must be positive")
	}
	if c.SizeToCertify <= 0 {
		return fmt.Errorf("size to certify must be positive")
	}
	if c.Mode != "vit" && c.Mode != "cnn" {
		return fmt.Errorf("mode must be 'vit' or 'cnn', got %q", c.Mode)
	}
	if len(c.OriginalShape) != 3 {
		return fmt.Errorf("original shape must be [channels, height, width]")
	}
	for _, d := range c.OriginalShape {
		if d <= 0 {
			return fmt.Errorf("original shape dims must be positive, got %v", c.OriginalShape)
		}
	}
	if c.ToReshape {
		if len(c.OutputShape) != 3 {
			return fmt.Errorf("output shape must be [channels, height, width]")
		}
		for _, d := range c.OutputShape {
			if d <= 0 {
				return fmt.Errorf("output shape dims must be positive, got %v", c.OutputShape)
			}
		}
	}
	if c.AblationSize > c.OriginalShape[2] {
		return fmt.Errorf("ablation size %d exceeds image width %d", c.AblationSize, c.OriginalShape[2])
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("hidden dim must be positive")
	}
	return nil
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched.
type Overrides struct {
	AblationSize  int
	SizeToCertify int
	Epochs        int
	BatchSize     int
	LearningRate  float64
	HiddenDim     int
	Seed          int64
	Workers       int
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.AblationSize > 0 {
		c.AblationSize = o.AblationSize
	}
	if o.SizeToCertify > 0 {
		c.SizeToCertify = o.SizeToCertify
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.HiddenDim > 0 {
		c.HiddenDim = o.HiddenDim
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
}
