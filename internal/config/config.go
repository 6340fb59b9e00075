// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package config loads and validates the Chronorec run configuration.
//
// Configuration is layered with Koanf v2 (highest priority wins):
//
//  1. Environment variables (see the mapping table in koanf.go)
//  2. Config file (config.yaml, or CHRONOREC_CONFIG_PATH)
//  3. Built-in defaults
//
// A Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Window policies.
const (
	// PolicyIncremental trains on exactly one time index per step.
	PolicyIncremental = "incremental"
	// PolicySliding trains on a fixed-size contiguous span per step.
	PolicySliding = "sliding"
)

// Event transports.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// Config is the root configuration for a Chronorec run.
type Config struct {
	Data       DataConfig       `koanf:"data"`
	Model      ModelConfig      `koanf:"model"`
	Window     WindowConfig     `koanf:"window"`
	Training   TrainingConfig   `koanf:"training"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
	Sinks      SinksConfig      `koanf:"sinks"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Events     EventsConfig     `koanf:"events"`
	Output     OutputConfig     `koanf:"output"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DataConfig describes the partitioned interaction logs and the embedded
// DuckDB instance used to read them.
//
// Partitions are numbered directories under Root; each holds one parquet
// file per split. TrainPattern and EvalPattern are fmt patterns receiving
// the time index, e.g. "%04d/train.parquet" resolves index 3 to
// "<root>/0003/train.parquet".
//
// Environment Variables:
//   - DATA_ROOT: Partition root directory (required)
//   - DATA_SCHEMA_PATH: Feature schema YAML (required)
//   - DATA_TRAIN_PATTERN / DATA_EVAL_PATTERN: Partition path patterns
//   - DUCKDB_PATH: DuckDB database file ("" = in-memory)
//   - DUCKDB_MAX_MEMORY: DuckDB memory limit (default: 2GB)
//   - DUCKDB_THREADS: DuckDB threads (0 = all cores)
//   - BATCH_SIZE: Sessions per batch (default: 128)
//   - MAX_SEQUENCE_LEN: Max items per session, longer sessions truncated (default: 20)
//   - MIN_SESSION_LEN: Shorter sessions dropped (default: 2)
type DataConfig struct {
	Root                   string `koanf:"root" validate:"required"`
	SchemaPath             string `koanf:"schema_path" validate:"required"`
	TrainPattern           string `koanf:"train_pattern" validate:"required"`
	EvalPattern            string `koanf:"eval_pattern" validate:"required"`
	DBPath                 string `koanf:"db_path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads" validate:"gte=0"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
	BatchSize              int    `koanf:"batch_size" validate:"gt=0"`
	MaxSequenceLen         int    `koanf:"max_sequence_len" validate:"gt=1"`
	MinSessionLen          int    `koanf:"min_session_len" validate:"gt=1"`
}

// ModelConfig holds the session encoder and scoring head settings.
//
// Temperature scales logits before log-softmax normalization. Zero means
// disabled (the zero value, not a temperature of zero); 1.0 is a no-op;
// negative values are rejected.
type ModelConfig struct {
	// HiddenDim is the embedding/hidden state dimensionality.
	HiddenDim int `koanf:"hidden_dim" validate:"gt=0"`

	// TieWeights shares the item embedding table with the scoring head
	// instead of learning an independent output projection.
	TieWeights bool `koanf:"tie_weights"`

	// Temperature divides logits before normalization. 0 disables.
	Temperature float64 `koanf:"temperature" validate:"gte=0"`

	// Seed drives negative sampling. Parameter initialization is
	// deterministic and independent of it.
	Seed int64 `koanf:"seed"`
}

// WindowConfig fixes the time-window policy for the whole run.
//
// With the incremental policy each step trains on exactly one time index;
// with the sliding policy each step trains on Size consecutive indices.
// Either way the evaluation index is the index immediately after the
// training span. The run ends when the evaluation index would exceed
// FinalIndex.
type WindowConfig struct {
	Policy     string `koanf:"policy" validate:"oneof=incremental sliding"`
	Size       int    `koanf:"size" validate:"gte=1"`
	StartIndex int    `koanf:"start_index" validate:"gte=0"`
	FinalIndex int    `koanf:"final_index" validate:"gte=0"`
}

// TrainingConfig holds the per-window fitting settings.
//
// Environment Variables:
//   - TRAINING_ENABLED: Run the training step each window (default: true)
//   - TRAINING_EPOCHS: Passes over the window's sessions (default: 3)
//   - LEARNING_RATE: SGD step size (default: 0.05)
//   - LR_SCHEDULE: constant or linear (default: constant)
//   - LR_WARMUP_STEPS: Warmup steps for the linear schedule (default: 0)
//   - RESET_LR_PER_WINDOW: Rewind the schedule before each window (default: false)
//   - NEGATIVE_SAMPLING: Use sampled losses instead of the full softmax (default: false)
//   - EXTRA_NEGATIVES: Negatives sampled per example when sampling (default: 0)
//   - TRAINING_RESUME: Restore the latest checkpoint and skip completed windows (default: false)
type TrainingConfig struct {
	Enabled          bool    `koanf:"enabled"`
	Epochs           int     `koanf:"epochs" validate:"gt=0"`
	LearningRate     float64 `koanf:"learning_rate" validate:"gt=0"`
	Schedule         string  `koanf:"schedule" validate:"oneof=constant linear"`
	WarmupSteps      int     `koanf:"warmup_steps" validate:"gte=0"`
	ResetLRPerWindow bool    `koanf:"reset_lr_per_window"`
	NegativeSampling bool    `koanf:"negative_sampling"`
	ExtraNegatives   int     `koanf:"extra_negatives" validate:"gte=0"`
	Resume           bool    `koanf:"resume"`
}

// EvaluationConfig holds the ranking evaluation settings.
type EvaluationConfig struct {
	Enabled bool `koanf:"enabled"`

	// Cutoffs are the @k cutoffs for ndcg/avg_precision/recall.
	Cutoffs []int `koanf:"cutoffs" validate:"min=1,dive,gt=0"`

	// Parallelism bounds concurrent batch scoring within one pass.
	Parallelism int `koanf:"parallelism" validate:"gt=0"`
}

// PredictionSinkConfig controls the per-window prediction log.
type PredictionSinkConfig struct {
	Enabled bool `koanf:"enabled"`

	// TopK is how many ranked items (ids + scores) each row records.
	TopK int `koanf:"top_k" validate:"gt=0"`

	// Metadata lists schema features logged as metadata_<name> columns.
	Metadata []string `koanf:"metadata"`
}

// AttentionSinkConfig controls the attention-weights log.
type AttentionSinkConfig struct {
	Enabled bool `koanf:"enabled"`
}

// SinksConfig groups the observability sinks and their shared circuit
// breaker. Sink failures never abort a run: after FailureThreshold
// consecutive failures writes become no-ops until RecoveryTimeout passes.
type SinksConfig struct {
	Predictions      PredictionSinkConfig `koanf:"predictions"`
	Attention        AttentionSinkConfig  `koanf:"attention"`
	FailureThreshold uint32               `koanf:"failure_threshold" validate:"gt=0"`
	RecoveryTimeout  time.Duration        `koanf:"recovery_timeout" validate:"gt=0"`
}

// CheckpointConfig controls model checkpointing between windows.
type CheckpointConfig struct {
	Enabled bool `koanf:"enabled"`

	// Dir overrides the checkpoint store location.
	// Empty means <output.dir>/checkpoints.
	Dir string `koanf:"dir"`

	// SyncWrites forces fsync on every checkpoint write.
	SyncWrites bool `koanf:"sync_writes"`
}

// EventsConfig controls the run lifecycle event stream.
//
// The gochannel transport keeps events in-process (tests, single-binary
// runs); the nats transport publishes to JetStream, optionally against an
// embedded server for standalone deployments.
type EventsConfig struct {
	Enabled           bool    `koanf:"enabled"`
	Transport         string  `koanf:"transport" validate:"oneof=gochannel nats"`
	NATSURL           string  `koanf:"nats_url"`
	EmbeddedServer    bool    `koanf:"embedded_server"`
	StoreDir          string  `koanf:"store_dir"`
	TopicPrefix       string  `koanf:"topic_prefix" validate:"required"`
	ProgressPerSecond float64 `koanf:"progress_per_second" validate:"gt=0"`
}

// OutputConfig controls the run artifact directory.
type OutputConfig struct {
	// Dir receives all run artifacts (results, logs, prediction
	// partitions, checkpoints).
	Dir string `koanf:"dir" validate:"required"`

	// Overwrite permits reusing a non-empty Dir. Without it a populated
	// output directory fails the pre-flight check unless the run is
	// resuming from a checkpoint.
	Overwrite bool `koanf:"overwrite"`
}

// MetricsConfig controls the debug HTTP listener (Prometheus + health).
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required"`
}

// LoggingConfig holds the zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks scalar constraints via struct tags, then the cross-field
// invariants the tags cannot express. Errors name the offending field and
// value.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: field %s failed %q (got %v)",
				strings.ToLower(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	if c.Window.FinalIndex <= c.Window.StartIndex {
		return fmt.Errorf("config: window.final_index must exceed window.start_index, got %d <= %d",
			c.Window.FinalIndex, c.Window.StartIndex)
	}
	if c.Window.Policy == PolicySliding {
		span := c.Window.StartIndex + c.Window.Size
		if span > c.Window.FinalIndex {
			return fmt.Errorf("config: sliding window of size %d starting at %d leaves no index to evaluate (final_index %d)",
				c.Window.Size, c.Window.StartIndex, c.Window.FinalIndex)
		}
	}
	if !strings.Contains(c.Data.TrainPattern, "%") {
		return fmt.Errorf("config: data.train_pattern %q has no index placeholder", c.Data.TrainPattern)
	}
	if !strings.Contains(c.Data.EvalPattern, "%") {
		return fmt.Errorf("config: data.eval_pattern %q has no index placeholder", c.Data.EvalPattern)
	}
	if c.Training.NegativeSampling && c.Training.ExtraNegatives == 0 {
		return fmt.Errorf("config: training.negative_sampling requires training.extra_negatives > 0")
	}
	// An in-memory results table dies with the process, so a resumed
	// run would summarize and export only the post-resume windows.
	if c.Training.Resume && c.Data.DBPath == "" {
		return fmt.Errorf("config: training.resume requires a durable data.db_path, got in-memory database")
	}
	if c.Events.Enabled && c.Events.Transport == TransportNATS &&
		c.Events.NATSURL == "" && !c.Events.EmbeddedServer {
		return fmt.Errorf("config: events.transport nats needs events.nats_url or events.embedded_server")
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Evaluation.Cutoffs = append([]int(nil), c.Evaluation.Cutoffs...)
	clone.Sinks.Predictions.Metadata = append([]string(nil), c.Sinks.Predictions.Metadata...)
	return &clone
}
