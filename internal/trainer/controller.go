// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chronorec/chronorec/internal/checkpoint"
	"github.com/chronorec/chronorec/internal/config"
	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/model"
	"github.com/chronorec/chronorec/internal/ranking"
	"github.com/chronorec/chronorec/internal/schema"
	"github.com/chronorec/chronorec/internal/sink"
)

// ErrOutputDirNotEmpty is returned by the pre-flight check when the
// output directory already holds files and overwriting is not allowed.
var ErrOutputDirNotEmpty = errors.New("trainer: output directory not empty")

// initSeed fixes parameter initialization. Model parameters are
// identical across runs; config.Model.Seed only drives negative
// sampling and epoch shuffling.
const initSeed int64 = 1

// Events receives run lifecycle notifications from the controller.
// Implementations must never block or fail the training loop; the
// controller ignores delivery outcomes entirely.
type Events interface {
	RunStarted(ctx context.Context, runID, policy string, startIndex, finalIndex int)
	TrainProgress(ctx context.Context, evalIndex, epoch int, step int64, loss float64)
	WindowCompleted(ctx context.Context, evalIndex int, results map[string]float64)
	RunCompleted(ctx context.Context, summary map[string]float64)
}

// NopEvents discards every notification.
type NopEvents struct{}

func (NopEvents) RunStarted(context.Context, string, string, int, int)     {}
func (NopEvents) TrainProgress(context.Context, int, int, int64, float64)  {}
func (NopEvents) WindowCompleted(context.Context, int, map[string]float64) {}
func (NopEvents) RunCompleted(context.Context, map[string]float64)         {}

var _ Events = NopEvents{}

// Status is a point-in-time view of run progress for the debug
// listener.
type Status struct {
	RunID       string  `json:"run_id"`
	Phase       string  `json:"phase"`
	EvalIndex   int     `json:"eval_index"`
	GlobalStep  int64   `json:"global_step"`
	LastLoss    float64 `json:"last_loss"`
	WindowsDone int     `json:"windows_done"`
}

// Controller owns one run: it walks the window policy, trains and
// evaluates per window, records results, checkpoints, and writes the
// run artifacts at the end. A Controller is single-use.
type Controller struct {
	cfg    *config.Config
	sch    *schema.Schema
	db     *database.DB
	store  *checkpoint.Store
	events Events
	logger zerolog.Logger

	policy    *Policy
	table     *model.EmbeddingTable
	encoder   *model.SessionEncoder
	head      *model.NextItemHead
	schedule  *Schedule
	sampler   *Sampler
	attention *sink.GuardedAttentionSink

	cutoffs      []int
	metricKeys   []string
	metaFeatures []schema.Feature
	bestKey      string

	runID     string
	startedAt time.Time

	// mu guards the mutable progress fields and serializes parameter
	// updates against concurrent scoring.
	mu          sync.RWMutex
	phase       string
	evalIndex   int
	globalStep  int64
	lastLoss    float64
	windowsDone int

	bestValue     float64
	bestEvalIndex int
	hasBest       bool
}

// New wires a controller from validated configuration. store may be nil
// when checkpointing is disabled; events may be nil for a silent run.
func New(cfg *config.Config, sch *schema.Schema, db *database.DB, store *checkpoint.Store, events Events, logger zerolog.Logger) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("trainer: nil config")
	}
	if sch == nil {
		return nil, errors.New("trainer: nil schema")
	}
	if db == nil {
		return nil, errors.New("trainer: nil database")
	}
	if events == nil {
		events = NopEvents{}
	}

	policy, err := NewPolicy(cfg.Window)
	if err != nil {
		return nil, err
	}

	vocab, err := sch.VocabSize()
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	table, err := model.NewEmbeddingTable(vocab, cfg.Model.HiddenDim, initSeed)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	head, err := model.NewNextItemHead(model.HeadConfig{
		VocabSize:   vocab,
		HiddenDim:   cfg.Model.HiddenDim,
		TieWeights:  cfg.Model.TieWeights,
		Temperature: cfg.Model.Temperature,
		Seed:        initSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if cfg.Model.TieWeights {
		if err := head.Bind(table); err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
	}

	cutoffs := ranking.NewAggregator(cfg.Evaluation.Cutoffs).Cutoffs()

	c := &Controller{
		cfg:        cfg,
		sch:        sch,
		db:         db,
		store:      store,
		events:     events,
		logger:     logger.With().Str("component", "trainer").Logger(),
		policy:     policy,
		table:      table,
		encoder:    model.NewSessionEncoder(table),
		head:       head,
		schedule:   NewSchedule(cfg.Training),
		sampler:    NewSampler(cfg.Model.Seed),
		cutoffs:    cutoffs,
		metricKeys: ranking.Keys(cutoffs),
		bestKey:    datasetEval + "_" + ranking.Key(ranking.MetricNDCG, cutoffs[0]),
		runID:      uuid.NewString(),
	}

	if cfg.Sinks.Predictions.Enabled {
		for _, name := range cfg.Sinks.Predictions.Metadata {
			f, ok := sch.Feature(name)
			if !ok {
				return nil, fmt.Errorf("trainer: prediction metadata feature %q not in schema", name)
			}
			c.metaFeatures = append(c.metaFeatures, f)
		}
	}
	if cfg.Sinks.Attention.Enabled {
		inner := sink.NewAttentionSink(outputPath(cfg.Output.Dir, attentionDirName))
		c.attention = sink.NewGuardedAttentionSink(inner, cfg.Sinks.FailureThreshold, cfg.Sinks.RecoveryTimeout)
	}

	return c, nil
}

// RunID returns the run's unique id.
func (c *Controller) RunID() string {
	return c.runID
}

// Status returns the current progress snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		RunID:       c.runID,
		Phase:       c.phase,
		EvalIndex:   c.evalIndex,
		GlobalStep:  c.globalStep,
		LastLoss:    c.lastLoss,
		WindowsDone: c.windowsDone,
	}
}

func (c *Controller) setPhase(phase string, evalIndex int) {
	c.mu.Lock()
	c.phase = phase
	c.evalIndex = evalIndex
	c.mu.Unlock()
	metrics.CurrentEvalIndex.Set(float64(evalIndex))
}

// Run executes the whole loop: pre-flight, optional resume, one pass
// over the policy's windows, then finalization. The context cancels the
// run between batches and between windows.
func (c *Controller) Run(ctx context.Context) error {
	c.startedAt = time.Now().UTC()

	if err := c.preflight(); err != nil {
		return err
	}

	runLog, err := OpenRunLog(outputPath(c.cfg.Output.Dir, runLogFile))
	if err != nil {
		return err
	}
	defer func() {
		if err := runLog.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Closing run log failed")
		}
	}()
	if err := runLog.Parameters(c.cfg); err != nil {
		return err
	}

	resumeIndex := -1
	if c.cfg.Training.Resume {
		resumeIndex, err = c.restoreLatest(ctx)
		if err != nil {
			return err
		}
	}

	c.logger.Info().
		Str("run_id", c.runID).
		Str("policy", c.policy.Name()).
		Int("start_index", c.cfg.Window.StartIndex).
		Int("final_index", c.cfg.Window.FinalIndex).
		Msg("Run starting")
	c.events.RunStarted(ctx, c.runID, c.policy.Name(), c.cfg.Window.StartIndex, c.cfg.Window.FinalIndex)

	var processed []int
	for _, w := range c.policy.Windows() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.EvalIndex <= resumeIndex {
			c.logger.Info().Int("eval_index", w.EvalIndex).Msg("Window already checkpointed, skipping")
			continue
		}

		results, err := c.runWindow(ctx, w)
		if err != nil {
			return err
		}
		if err := c.recordWindow(ctx, w.EvalIndex, results, runLog); err != nil {
			return err
		}
		processed = append(processed, w.EvalIndex)
	}

	return c.finalize(ctx, processed, runLog)
}

// preflight validates the output directory and creates the artifact
// subdirectories before any partition is touched. A resumed run reuses
// its directory by definition, and the checkpoint store lives inside
// the output directory, so neither counts as clutter.
func (c *Controller) preflight() error {
	dir := c.cfg.Output.Dir
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("trainer: create output directory %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("trainer: read output directory %s: %w", dir, err)
	default:
		clutter := 0
		for _, e := range entries {
			if e.IsDir() && e.Name() == checkpointDir {
				continue
			}
			clutter++
		}
		if clutter > 0 && !c.cfg.Output.Overwrite && !c.cfg.Training.Resume {
			return fmt.Errorf("%w: %s has %d entries and output.overwrite is off", ErrOutputDirNotEmpty, dir, clutter)
		}
	}

	if c.cfg.Sinks.Predictions.Enabled {
		predDir := outputPath(dir, predLogDirName)
		if err := os.MkdirAll(predDir, 0o750); err != nil {
			return fmt.Errorf("trainer: create prediction log directory %s: %w", predDir, err)
		}
	}
	return nil
}

// DefaultCheckpointDir resolves the checkpoint store location for an
// output directory, used when checkpoint.dir is not set explicitly.
func DefaultCheckpointDir(outputDir string) string {
	return outputPath(outputDir, checkpointDir)
}

// restoreLatest loads the newest checkpoint and rewinds the run state
// to it. Returns the checkpointed evaluation index, or -1 when the
// store is empty or absent.
func (c *Controller) restoreLatest(ctx context.Context) (int, error) {
	if c.store == nil {
		c.logger.Warn().Msg("Resume requested without a checkpoint store, starting fresh")
		return -1, nil
	}

	snap, err := c.store.Latest(ctx)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		c.logger.Info().Msg("No checkpoint found, starting fresh")
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("trainer: restore checkpoint: %w", err)
	}

	if err := c.table.Restore(snap.Weights); err != nil {
		return -1, fmt.Errorf("trainer: restore checkpoint %d: %w", snap.EvalIndex, err)
	}
	if err := c.head.SetBias(snap.Bias); err != nil {
		return -1, fmt.Errorf("trainer: restore checkpoint %d: %w", snap.EvalIndex, err)
	}
	if !c.cfg.Model.TieWeights {
		if err := restoreMatrix(c.head.Weight(), snap.HeadWeights); err != nil {
			return -1, fmt.Errorf("trainer: restore checkpoint %d head: %w", snap.EvalIndex, err)
		}
	}

	c.mu.Lock()
	c.globalStep = snap.GlobalStep
	c.mu.Unlock()
	c.schedule.SetStep(snap.ScheduleStep)

	c.logger.Info().
		Int("eval_index", snap.EvalIndex).
		Int64("global_step", snap.GlobalStep).
		Time("saved_at", snap.SavedAt).
		Msg("Checkpoint restored")
	return snap.EvalIndex, nil
}

// runWindow executes one window end to end and returns the merged,
// prefixed metric results (nil when evaluation is disabled).
func (c *Controller) runWindow(ctx context.Context, w Window) (map[string]float64, error) {
	c.setPhase("load", w.EvalIndex)

	root, trainPattern, evalPattern := c.cfg.Data.Root, c.cfg.Data.TrainPattern, c.cfg.Data.EvalPattern
	if err := database.CheckPartitions(root, trainPattern, w.TrainIndices); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if err := database.CheckPartitions(root, evalPattern, []int{w.EvalIndex}); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	trainPaths := make([]string, len(w.TrainIndices))
	for i, ti := range w.TrainIndices {
		trainPaths[i] = database.PartitionPath(root, trainPattern, ti)
	}
	evalPath := database.PartitionPath(root, evalPattern, w.EvalIndex)

	// Frequencies come from the current training span, so the sampling
	// distribution always matches the data being fit.
	if c.cfg.Training.NegativeSampling && c.cfg.Training.ExtraNegatives > 0 {
		freqs, err := c.db.ItemFrequencies(ctx, trainPaths, c.sch)
		if err != nil {
			return nil, fmt.Errorf("trainer: refresh sampling frequencies: %w", err)
		}
		c.sampler.SetFrequencies(freqs)
		c.logger.Debug().Int("items", len(freqs)).Msg("Sampling frequencies refreshed")
	}

	if c.cfg.Training.Enabled {
		c.setPhase("train", w.EvalIndex)
		sessions, err := c.loadSessions(ctx, trainPaths)
		if err != nil {
			return nil, err
		}
		if err := c.trainWindow(ctx, w, sessions); err != nil {
			return nil, err
		}
		c.wipeMemory()
	}

	if !c.cfg.Evaluation.Enabled {
		return nil, nil
	}

	// One prediction partition per evaluation index holds the rows of
	// both passes, told apart by dataset_type.
	var predictions *sink.GuardedPredictionSink
	if c.cfg.Sinks.Predictions.Enabled {
		path := outputPath(c.cfg.Output.Dir, predLogDirName, sink.PartitionName(w.EvalIndex))
		inner := sink.NewPredictionSink(c.db, path)
		predictions = sink.NewGuardedPredictionSink(inner, c.cfg.Sinks.FailureThreshold, c.cfg.Sinks.RecoveryTimeout)
		predictions.Open(sink.RowSchema{MetricKeys: c.metricKeys, Meta: c.metaFeatures})
	}
	defer predictions.Close()

	var trainResults map[string]float64
	if c.cfg.Training.Enabled {
		c.setPhase("eval_train", w.EvalIndex)
		raw, err := c.evalPass(ctx, evalRequest{
			datasetType: datasetTrain,
			paths:       trainPaths,
			evalIndex:   w.EvalIndex,
			predictions: predictions,
			attention:   c.attention,
		})
		if err != nil {
			return nil, err
		}
		c.wipeMemory()

		trainResults = prefixKeys(datasetTrain, raw)
		if err := c.logResults(datasetTrain, w.EvalIndex, trainResults); err != nil {
			return nil, err
		}
	}

	c.setPhase("eval", w.EvalIndex)
	raw, err := c.evalPass(ctx, evalRequest{
		datasetType: datasetEval,
		paths:       []string{evalPath},
		evalIndex:   w.EvalIndex,
		predictions: predictions,
		attention:   c.attention,
	})
	if err != nil {
		return nil, err
	}
	c.wipeMemory()

	evalResults := prefixKeys(datasetEval, raw)
	if err := c.logResults(datasetEval, w.EvalIndex, evalResults); err != nil {
		return nil, err
	}

	return mergeResults(evalResults, trainResults), nil
}

// logResults appends one pass's prefixed metrics to its text table and
// mirrors them to the structured log.
func (c *Controller) logResults(datasetType string, evalIndex int, results map[string]float64) error {
	path := outputPath(c.cfg.Output.Dir, resultsOverTimeFile(datasetType))
	if err := appendResultsBlock(path, datasetType, evalIndex, results); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	ev := c.logger.Info().Int("eval_index", evalIndex).Str("dataset_type", datasetType)
	for k, v := range results {
		ev = ev.Float64(k, v)
	}
	ev.Msg("Pass results")
	return nil
}

// recordWindow persists one completed window: the results-over-time
// row, the checkpoint, the lifecycle event and the run-log line.
func (c *Controller) recordWindow(ctx context.Context, evalIndex int, results map[string]float64, runLog *RunLog) error {
	if len(results) > 0 {
		if err := c.db.RecordResults(ctx, evalIndex, results); err != nil {
			return fmt.Errorf("trainer: record window %d: %w", evalIndex, err)
		}
		if v, ok := results[c.bestKey]; ok && (!c.hasBest || v > c.bestValue) {
			c.hasBest = true
			c.bestValue = v
			c.bestEvalIndex = evalIndex
		}
		if err := runLog.Window(evalIndex, results); err != nil {
			return err
		}
	}

	if err := c.saveCheckpoint(ctx, evalIndex); err != nil {
		return err
	}

	c.events.WindowCompleted(ctx, evalIndex, results)

	c.mu.Lock()
	c.windowsDone++
	c.mu.Unlock()
	metrics.WindowsProcessed.Inc()
	return nil
}

// saveCheckpoint snapshots the model keyed by the window's evaluation
// index. A nil store or disabled checkpointing is a no-op.
func (c *Controller) saveCheckpoint(ctx context.Context, evalIndex int) error {
	if c.store == nil || !c.cfg.Checkpoint.Enabled {
		return nil
	}

	snap := &checkpoint.Snapshot{
		EvalIndex:    evalIndex,
		GlobalStep:   c.Status().GlobalStep,
		ScheduleStep: c.schedule.Step(),
		Weights:      c.table.Snapshot(),
		Bias:         append([]float64(nil), c.head.Bias()...),
		SavedAt:      time.Now().UTC(),
	}
	if !c.cfg.Model.TieWeights {
		snap.HeadWeights = cloneMatrix(c.head.Weight())
	}

	if err := c.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("trainer: checkpoint window %d: %w", evalIndex, err)
	}
	c.logger.Debug().Int("eval_index", evalIndex).Msg("Checkpoint saved")
	return nil
}

// finalize writes the end-of-run artifacts: the averaged results, the
// CSV export, the trainer state, and the closing event.
func (c *Controller) finalize(ctx context.Context, processed []int, runLog *RunLog) error {
	c.setPhase("finalize", c.cfg.Window.FinalIndex)

	var avg map[string]float64
	if c.cfg.Evaluation.Enabled && len(processed) > 0 {
		table, err := c.db.Results(ctx)
		if err != nil {
			return fmt.Errorf("trainer: load results for summary: %w", err)
		}
		avg = averageOverTime(table)

		if err := c.db.ExportResultsCSV(ctx, outputPath(c.cfg.Output.Dir, resultsCSVFile)); err != nil {
			return fmt.Errorf("trainer: %w", err)
		}
		if err := appendAvgBlock(outputPath(c.cfg.Output.Dir, avgOverTimeFile), avg); err != nil {
			return fmt.Errorf("trainer: %w", err)
		}
		if err := runLog.Summary(avg); err != nil {
			return err
		}
	}

	state := &State{
		RunID:        c.runID,
		Policy:       c.policy.Name(),
		WindowSize:   c.policy.Size(),
		StartIndex:   c.cfg.Window.StartIndex,
		FinalIndex:   c.cfg.Window.FinalIndex,
		EvalIndices:  processed,
		GlobalStep:   c.Status().GlobalStep,
		ScheduleStep: c.schedule.Step(),
		StartedAt:    c.startedAt,
		FinishedAt:   time.Now().UTC(),
		Versions:     libraryVersions(),
	}
	if c.hasBest {
		state.BestMetricKey = c.bestKey
		state.BestMetricValue = c.bestValue
		state.BestEvalIndex = c.bestEvalIndex
	}
	if err := state.write(outputPath(c.cfg.Output.Dir, trainerStateFile)); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	c.events.RunCompleted(ctx, avg)
	c.logger.Info().
		Str("run_id", c.runID).
		Int("windows", len(processed)).
		Msg("Run finished")
	return nil
}

// loadSessions reads every requested partition in order and
// concatenates the sessions. Passing the configured metadata features
// keeps the loaded sessions usable by the prediction log.
func (c *Controller) loadSessions(ctx context.Context, paths []string) ([]database.Session, error) {
	var sessions []database.Session
	for _, path := range paths {
		part, err := c.db.LoadSessions(ctx, path, c.sch, c.metaFeatures)
		if err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
		sessions = append(sessions, part...)
	}
	return sessions, nil
}

// wipeMemory drops pass-local allocations between phases. Loaders are
// rebuilt per pass, so nothing references the old batches once a pass
// returns.
func (c *Controller) wipeMemory() {
	runtime.GC()
}

// cloneMatrix deep-copies a weight matrix.
func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// restoreMatrix copies src into dst row by row, validating shapes.
func restoreMatrix(dst, src [][]float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("matrix has %d rows, expected %d", len(src), len(dst))
	}
	for i, row := range src {
		if len(dst[i]) != len(row) {
			return fmt.Errorf("matrix row %d has %d columns, expected %d", i, len(row), len(dst[i]))
		}
		copy(dst[i], row)
	}
	return nil
}
