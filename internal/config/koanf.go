// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chronorec/config.yaml",
	"/etc/chronorec/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CHRONOREC_CONFIG_PATH"

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Root:                   "",
			SchemaPath:             "",
			TrainPattern:           "%04d/train.parquet",
			EvalPattern:            "%04d/eval.parquet",
			DBPath:                 "", // in-memory
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
			BatchSize:              128,
			MaxSequenceLen:         20,
			MinSessionLen:          2,
		},
		Model: ModelConfig{
			HiddenDim:   64,
			TieWeights:  true,
			Temperature: 0, // disabled
			Seed:        42,
		},
		Window: WindowConfig{
			Policy:     PolicyIncremental,
			Size:       1,
			StartIndex: 0,
			FinalIndex: 1,
		},
		Training: TrainingConfig{
			Enabled:          true,
			Epochs:           3,
			LearningRate:     0.05,
			Schedule:         "constant",
			WarmupSteps:      0,
			ResetLRPerWindow: false,
			NegativeSampling: false,
			ExtraNegatives:   0,
			Resume:           false,
		},
		Evaluation: EvaluationConfig{
			Enabled:     true,
			Cutoffs:     []int{10, 20},
			Parallelism: 4,
		},
		Sinks: SinksConfig{
			Predictions: PredictionSinkConfig{
				Enabled:  false,
				TopK:     20,
				Metadata: nil,
			},
			Attention: AttentionSinkConfig{
				Enabled: false,
			},
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Enabled:    true,
			Dir:        "", // <output.dir>/checkpoints
			SyncWrites: false,
		},
		Events: EventsConfig{
			Enabled:           false,
			Transport:         TransportGoChannel,
			NATSURL:           "",
			EmbeddedServer:    false,
			StoreDir:          "/data/chronorec/jetstream",
			TopicPrefix:       "chronorec",
			ProgressPerSecond: 1,
		},
		Output: OutputConfig{
			Dir:       "./output",
			Overwrite: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9187",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML (first of DefaultConfigPaths, or
//     CHRONOREC_CONFIG_PATH)
//  3. Environment variables: highest priority, mapped by envTransformFunc
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but takes the YAML layer from path when one
// is given (the --config flag). An explicit path that cannot be read is
// an error, unlike the searched defaults, which are optional.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// TRAINING_EPOCHS -> training.epochs, DATA_ROOT -> data.root, ...
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// intSliceConfigPaths are parsed as comma-separated ints when they arrive
// as strings from the environment.
var intSliceConfigPaths = []string{
	"evaluation.cutoffs",
}

// stringSliceConfigPaths are parsed as comma-separated strings.
var stringSliceConfigPaths = []string{
	"sinks.predictions.metadata",
}

// processSliceFields converts comma-separated env values into typed slices.
// YAML-sourced values are already slices and pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range stringSliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitAndTrim(strVal)
		if len(parts) > 0 {
			if err := k.Set(path, parts); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	for _, path := range intSliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitAndTrim(strVal)
		ints := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer: %w", path, p, err)
			}
			ints = append(ints, n)
		}
		if len(ints) > 0 {
			if err := k.Set(path, ints); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are ignored, so unrelated environment
// noise never leaks into the configuration.
//
// Examples:
//   - DATA_ROOT -> data.root
//   - LEARNING_RATE -> training.learning_rate
//   - WINDOW_POLICY -> window.policy
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Data source
		"data_root":          "data.root",
		"data_schema_path":   "data.schema_path",
		"data_train_pattern": "data.train_pattern",
		"data_eval_pattern":  "data.eval_pattern",
		"duckdb_path":        "data.db_path",
		"duckdb_max_memory":  "data.max_memory",
		"duckdb_threads":     "data.threads",
		"batch_size":         "data.batch_size",
		"max_sequence_len":   "data.max_sequence_len",
		"min_session_len":    "data.min_session_len",

		// Model
		"model_hidden_dim":  "model.hidden_dim",
		"model_tie_weights": "model.tie_weights",
		"model_temperature": "model.temperature",
		"model_seed":        "model.seed",

		// Window policy
		"window_policy":      "window.policy",
		"window_size":        "window.size",
		"window_start_index": "window.start_index",
		"window_final_index": "window.final_index",

		// Training
		"training_enabled":    "training.enabled",
		"training_epochs":     "training.epochs",
		"learning_rate":       "training.learning_rate",
		"lr_schedule":         "training.schedule",
		"lr_warmup_steps":     "training.warmup_steps",
		"reset_lr_per_window": "training.reset_lr_per_window",
		"negative_sampling":   "training.negative_sampling",
		"extra_negatives":     "training.extra_negatives",
		"training_resume":     "training.resume",

		// Evaluation
		"eval_enabled":     "evaluation.enabled",
		"eval_cutoffs":     "evaluation.cutoffs",
		"eval_parallelism": "evaluation.parallelism",

		// Sinks
		"pred_log_enabled":       "sinks.predictions.enabled",
		"pred_log_top_k":         "sinks.predictions.top_k",
		"pred_log_metadata":      "sinks.predictions.metadata",
		"attention_log_enabled":  "sinks.attention.enabled",
		"sink_failure_threshold": "sinks.failure_threshold",
		"sink_recovery_timeout":  "sinks.recovery_timeout",

		// Checkpoints
		"checkpoint_enabled":     "checkpoint.enabled",
		"checkpoint_dir":         "checkpoint.dir",
		"checkpoint_sync_writes": "checkpoint.sync_writes",

		// Events
		"events_enabled":             "events.enabled",
		"events_transport":           "events.transport",
		"nats_url":                   "events.nats_url",
		"nats_embedded":              "events.embedded_server",
		"nats_store_dir":             "events.store_dir",
		"events_topic_prefix":        "events.topic_prefix",
		"events_progress_per_second": "events.progress_per_second",

		// Output
		"output_dir":       "output.dir",
		"output_overwrite": "output.overwrite",

		// Debug listener
		"metrics_enabled": "metrics.enabled",
		"metrics_addr":    "metrics.addr",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
