// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Artifact names under the output directory.
const (
	trainerStateFile = "trainer_state.json"
	runLogFile       = "train_log.json"
	resultsCSVFile   = "eval_train_results.csv"
	avgOverTimeFile  = "eval_results_avg_over_days.txt"
	predLogDirName   = "pred_logs"
	attentionDirName = "attention_weights"
	checkpointDir    = "checkpoints"
)

// resultsOverTimeFile returns the per-dataset-type text table name,
// e.g. "eval_results_over_time.txt".
func resultsOverTimeFile(datasetType string) string {
	return datasetType + "_results_over_time.txt"
}

// appendResultsBlock appends one window's metrics to a results text
// table: a header naming the time index, then one sorted "key = value"
// line per metric.
func appendResultsBlock(path, datasetType string, timeIndex int, results map[string]float64) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open results table %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n***** %s results (time index): %d)*****\n", datasetType, timeIndex); err != nil {
		return fmt.Errorf("write results table %s: %w", path, err)
	}
	return writeSortedValues(f, results)
}

// appendAvgBlock appends the run-level average-over-time block to the
// summary text file.
func appendAvgBlock(path string, avg map[string]float64) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open results summary %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprint(f, "\n***** Eval results (avg over time) *****\n"); err != nil {
		return fmt.Errorf("write results summary %s: %w", path, err)
	}
	return writeSortedValues(f, avg)
}

func writeSortedValues(f *os.File, values map[string]float64) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := strconv.FormatFloat(values[k], 'g', -1, 64)
		if _, err := fmt.Fprintf(f, "%s = %s\n", k, v); err != nil {
			return fmt.Errorf("write %s: %w", f.Name(), err)
		}
	}
	return nil
}

// State is the run summary persisted as trainer_state.json when the
// run finishes.
type State struct {
	RunID        string `json:"run_id"`
	Policy       string `json:"policy"`
	WindowSize   int    `json:"window_size"`
	StartIndex   int    `json:"start_index"`
	FinalIndex   int    `json:"final_index"`
	EvalIndices  []int  `json:"eval_indices"`
	GlobalStep   int64  `json:"global_step"`
	ScheduleStep int64  `json:"schedule_step"`

	// BestMetricKey/BestMetricValue track the best held-out value of the
	// primary ranking metric and the window that produced it.
	BestMetricKey   string  `json:"best_metric_key,omitempty"`
	BestMetricValue float64 `json:"best_metric_value,omitempty"`
	BestEvalIndex   int     `json:"best_eval_index,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Versions records the build's module versions for provenance.
	Versions map[string]string `json:"versions,omitempty"`
}

// write persists the state as indented JSON.
func (s *State) write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trainer state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write trainer state %s: %w", path, err)
	}
	return nil
}

// libraryVersions reads the module versions baked into the binary.
// Outside a module-built binary (some test harnesses) it returns nil.
func libraryVersions() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	versions := make(map[string]string, len(info.Deps)+1)
	versions[info.Main.Path] = info.Main.Version
	for _, dep := range info.Deps {
		versions[dep.Path] = dep.Version
	}
	return versions
}

// RunLog is the JSON-lines run log: one object per recorded event,
// appended to train_log.json as the run progresses.
type RunLog struct {
	mu sync.Mutex
	f  *os.File
}

// runLogEntry is one log line. Step is "PARAMETER" for the opening
// configuration dump, the evaluation index for window records, and
// "SUMMARY" for the final averages.
type runLogEntry struct {
	At   time.Time   `json:"at"`
	Step interface{} `json:"step"`
	Data interface{} `json:"data"`
}

// OpenRunLog opens (or creates) the run log for appending.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &RunLog{f: f}, nil
}

// Parameters records the resolved run configuration.
func (l *RunLog) Parameters(cfg interface{}) error {
	return l.append(runLogEntry{At: time.Now().UTC(), Step: "PARAMETER", Data: cfg})
}

// Window records one window's merged results under its evaluation
// index.
func (l *RunLog) Window(evalIndex int, results map[string]float64) error {
	return l.append(runLogEntry{At: time.Now().UTC(), Step: evalIndex, Data: results})
}

// Summary records the run-level averages.
func (l *RunLog) Summary(avg map[string]float64) error {
	return l.append(runLogEntry{At: time.Now().UTC(), Step: "SUMMARY", Data: avg})
}

func (l *RunLog) append(entry runLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal run log entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}

// outputPath joins the output directory with an artifact name.
func outputPath(dir string, name ...string) string {
	return filepath.Join(append([]string{dir}, name...)...)
}
