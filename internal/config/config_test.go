// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validBase returns a config that passes validation; tests mutate single
// fields from here.
func validBase() *Config {
	cfg := defaultConfig()
	cfg.Data.Root = "/data/sessions"
	cfg.Data.SchemaPath = "/data/schema.yaml"
	cfg.Window.FinalIndex = 5
	return cfg
}

func TestDefaultConfigValues(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Data.TrainPattern != "%04d/train.parquet" {
		t.Errorf("TrainPattern = %q", cfg.Data.TrainPattern)
	}
	if cfg.Model.HiddenDim != 64 {
		t.Errorf("HiddenDim = %d, want 64", cfg.Model.HiddenDim)
	}
	if !cfg.Model.TieWeights {
		t.Error("TieWeights should default to true")
	}
	if cfg.Model.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0 (disabled)", cfg.Model.Temperature)
	}
	if cfg.Window.Policy != PolicyIncremental {
		t.Errorf("Policy = %q, want incremental", cfg.Window.Policy)
	}
	if got := cfg.Evaluation.Cutoffs; len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("Cutoffs = %v, want [10 20]", got)
	}
	if cfg.Sinks.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Sinks.FailureThreshold)
	}
	if cfg.Sinks.RecoveryTimeout != time.Minute {
		t.Errorf("RecoveryTimeout = %v, want 1m", cfg.Sinks.RecoveryTimeout)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing data root",
			mutate:  func(c *Config) { c.Data.Root = "" },
			wantErr: "data.root",
		},
		{
			name:    "missing schema path",
			mutate:  func(c *Config) { c.Data.SchemaPath = "" },
			wantErr: "schema_path",
		},
		{
			name:    "unknown window policy",
			mutate:  func(c *Config) { c.Window.Policy = "expanding" },
			wantErr: "window.policy",
		},
		{
			name:    "final not after start",
			mutate:  func(c *Config) { c.Window.StartIndex = 5; c.Window.FinalIndex = 5 },
			wantErr: "final_index",
		},
		{
			name: "sliding span too large",
			mutate: func(c *Config) {
				c.Window.Policy = PolicySliding
				c.Window.Size = 10
				c.Window.FinalIndex = 5
			},
			wantErr: "sliding window",
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Model.Temperature = -0.5 },
			wantErr: "temperature",
		},
		{
			name:    "zero hidden dim",
			mutate:  func(c *Config) { c.Model.HiddenDim = 0 },
			wantErr: "hidden_dim",
		},
		{
			name:    "train pattern without placeholder",
			mutate:  func(c *Config) { c.Data.TrainPattern = "train.parquet" },
			wantErr: "placeholder",
		},
		{
			name:    "zero cutoff",
			mutate:  func(c *Config) { c.Evaluation.Cutoffs = []int{10, 0} },
			wantErr: "cutoffs",
		},
		{
			name:    "no cutoffs",
			mutate:  func(c *Config) { c.Evaluation.Cutoffs = nil },
			wantErr: "cutoffs",
		},
		{
			name: "sampling without negatives",
			mutate: func(c *Config) {
				c.Training.NegativeSampling = true
				c.Training.ExtraNegatives = 0
			},
			wantErr: "extra_negatives",
		},
		{
			name: "resume with in-memory database",
			mutate: func(c *Config) {
				c.Training.Resume = true
				c.Data.DBPath = ""
			},
			wantErr: "db_path",
		},
		{
			name: "nats transport without url or embedded",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Transport = TransportNATS
			},
			wantErr: "nats_url",
		},
		{
			name:    "bad lr schedule",
			mutate:  func(c *Config) { c.Training.Schedule = "cosine" },
			wantErr: "schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validBase()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	cfg := validBase()
	cfg.Sinks.Predictions.Metadata = []string{"device_type"}

	clone := cfg.Clone()
	clone.Evaluation.Cutoffs[0] = 99
	clone.Sinks.Predictions.Metadata[0] = "mutated"
	clone.Data.Root = "/elsewhere"

	if cfg.Evaluation.Cutoffs[0] == 99 {
		t.Error("Clone shares Cutoffs backing array")
	}
	if cfg.Sinks.Predictions.Metadata[0] == "mutated" {
		t.Error("Clone shares Metadata backing array")
	}
	if cfg.Data.Root == "/elsewhere" {
		t.Error("Clone shares scalar fields")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  string
		want string
	}{
		{name: "data root", env: "DATA_ROOT", want: "data.root"},
		{name: "learning rate", env: "LEARNING_RATE", want: "training.learning_rate"},
		{name: "window policy", env: "WINDOW_POLICY", want: "window.policy"},
		{name: "eval cutoffs", env: "EVAL_CUTOFFS", want: "evaluation.cutoffs"},
		{name: "pred log top k", env: "PRED_LOG_TOP_K", want: "sinks.predictions.top_k"},
		{name: "nats url", env: "NATS_URL", want: "events.nats_url"},
		{name: "unmapped ignored", env: "PATH", want: ""},
		{name: "unmapped home ignored", env: "HOME", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadLayering(t *testing.T) {
	// Mutates process env; not parallel.
	dir := t.TempDir()
	configYAML := `
data:
  root: /from/file
  schema_path: /from/file/schema.yaml
window:
  final_index: 8
training:
  epochs: 7
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TRAINING_EPOCHS", "11")
	t.Setenv("EVAL_CUTOFFS", "5, 10, 20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// File beats defaults.
	if cfg.Data.Root != "/from/file" {
		t.Errorf("Data.Root = %q, want /from/file", cfg.Data.Root)
	}
	// Env beats file.
	if cfg.Training.Epochs != 11 {
		t.Errorf("Training.Epochs = %d, want 11 (env override)", cfg.Training.Epochs)
	}
	// Untouched values keep defaults.
	if cfg.Data.BatchSize != 128 {
		t.Errorf("Data.BatchSize = %d, want default 128", cfg.Data.BatchSize)
	}
	// Comma-separated env slice.
	want := []int{5, 10, 20}
	if len(cfg.Evaluation.Cutoffs) != len(want) {
		t.Fatalf("Cutoffs = %v, want %v", cfg.Evaluation.Cutoffs, want)
	}
	for i, k := range want {
		if cfg.Evaluation.Cutoffs[i] != k {
			t.Errorf("Cutoffs[%d] = %d, want %d", i, cfg.Evaluation.Cutoffs[i], k)
		}
	}
}

func TestLoadFromExplicitPath(t *testing.T) {
	// Mutates process env; not parallel.
	dir := t.TempDir()
	flagYAML := `
data:
  root: /from/flag
  schema_path: /from/flag/schema.yaml
window:
  final_index: 6
`
	flagPath := filepath.Join(dir, "flag.yaml")
	if err := os.WriteFile(flagPath, []byte(flagYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	envYAML := `
data:
  root: /from/env
  schema_path: /from/env/schema.yaml
window:
  final_index: 4
`
	envPath := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(envPath, []byte(envYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, envPath)

	cfg, err := LoadFrom(flagPath)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	// The explicit path beats the CHRONOREC_CONFIG_PATH search.
	if cfg.Data.Root != "/from/flag" {
		t.Errorf("Data.Root = %q, want /from/flag", cfg.Data.Root)
	}
	if cfg.Window.FinalIndex != 6 {
		t.Errorf("Window.FinalIndex = %d, want 6", cfg.Window.FinalIndex)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom() expected error for a missing explicit file, got nil")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	// Mutates process env; not parallel.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
data:
  root: /data
  schema_path: /data/schema.yaml
window:
  policy: bogus
  final_index: 4
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
}
