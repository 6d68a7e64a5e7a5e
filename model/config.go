package model

import (
	"errors"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/yunsangq/tensorflow-rnn-lstm/cell"
	"gopkg.in/yaml.v3"
)

// Config stores the hyperparameters of a Model.
type Config struct {
	// Cell is the recurrent cell type, "rnn" or "lstm".
	Cell string `yaml:"cell"`

	HiddenSize int `yaml:"hidden_size"`
	NumLayers  int `yaml:"num_layers"`
	VocabSize  int `yaml:"vocab_size"`
	BatchSize  int `yaml:"batch_size"`
	SeqLength  int `yaml:"seq_length"`

	// KeepProb is the probability of keeping each value
	// during dropout.
	// Dropout is disabled when it is 1.
	KeepProb float64 `yaml:"keep_prob"`

	// GradClip is the maximum global gradient norm.
	// A value of 0 disables clipping.
	GradClip float64 `yaml:"grad_clip"`

	// LearningRate is the initial learning rate.
	LearningRate float64 `yaml:"learning_rate"`

	// LegacyInputDropout skips dropout on the embedded
	// inputs, matching graphs where the dropped values
	// were never consumed.
	LegacyInputDropout bool `yaml:"legacy_input_dropout"`
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		Cell:         "lstm",
		HiddenSize:   256,
		NumLayers:    2,
		BatchSize:    50,
		SeqLength:    25,
		KeepProb:     1,
		GradClip:     5,
		LearningRate: 0.002,
	}
}

// Inference returns a copy of the config for sampling,
// with a single-token batch and no dropout.
func (c Config) Inference() Config {
	c.BatchSize = 1
	c.SeqLength = 1
	c.KeepProb = 1
	return c
}

// Kind parses the cell type.
func (c Config) Kind() (cell.Kind, error) {
	k, err := cell.ParseKind(c.Cell)
	if err != nil {
		return 0, &ConfigError{Field: "cell", Value: c.Cell, Err: err}
	}
	return k, nil
}

// Validate checks every field, returning a *ConfigError
// for the first invalid one.
func (c Config) Validate() error {
	if _, err := c.Kind(); err != nil {
		return err
	}
	ints := []struct {
		field string
		value int
	}{
		{"hidden_size", c.HiddenSize},
		{"num_layers", c.NumLayers},
		{"vocab_size", c.VocabSize},
		{"batch_size", c.BatchSize},
		{"seq_length", c.SeqLength},
	}
	for _, x := range ints {
		if x.value <= 0 {
			return &ConfigError{Field: x.field, Value: x.value, Err: errNotPositive}
		}
	}
	if c.KeepProb <= 0 || c.KeepProb > 1 {
		return &ConfigError{Field: "keep_prob", Value: c.KeepProb,
			Err: errors.New("must be in (0, 1]")}
	}
	if c.GradClip < 0 {
		return &ConfigError{Field: "grad_clip", Value: c.GradClip, Err: errNegative}
	}
	if c.LearningRate < 0 {
		return &ConfigError{Field: "learning_rate", Value: c.LearningRate, Err: errNegative}
	}
	return nil
}

// LoadConfig reads a YAML config file.
// Fields missing from the file keep their DefaultConfig
// values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, essentials.AddCtx("load config", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, essentials.AddCtx("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, essentials.AddCtx("load config", err)
	}
	return cfg, nil
}

// SaveConfig writes a config as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return essentials.AddCtx("save config", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save config", err)
	}
	return nil
}
