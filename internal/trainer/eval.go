// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/model"
	"github.com/chronorec/chronorec/internal/ranking"
	"github.com/chronorec/chronorec/internal/schema"
	"github.com/chronorec/chronorec/internal/sink"
)

// evalRequest is one evaluation pass over a set of partitions.
type evalRequest struct {
	// datasetType labels the pass: "train" for the pseudo-evaluation
	// over the training partitions, "eval" for held-out data.
	datasetType string
	paths       []string
	evalIndex   int

	// predictions and attention are the window's sinks; both are
	// nil-safe no-ops when the corresponding sink is disabled.
	predictions *sink.GuardedPredictionSink
	attention   *sink.GuardedAttentionSink
}

// scoredBatch carries one batch's scoring output to the collector.
type scoredBatch struct {
	batch  *model.Batch
	ex     model.Extracted
	scores [][]float64
	loss   float64
}

// evalPass loads the requested partitions fresh, scores every valid
// position once and returns the aggregate ranking metrics plus the mean
// negative log-likelihood under "loss".
//
// Scoring fans out over a bounded worker group; the aggregator and the
// sinks are only ever touched from the collecting goroutine, so neither
// needs locking and prediction rows keep batch order within a worker's
// output.
func (c *Controller) evalPass(ctx context.Context, req evalRequest) (map[string]float64, error) {
	start := time.Now()
	phase := "eval"
	if req.datasetType == datasetTrain {
		phase = "eval_train"
	}
	defer func() {
		metrics.WindowPhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}()

	sessions, err := c.loadSessions(ctx, req.paths)
	if err != nil {
		return nil, err
	}
	loader := NewLoader(sessions, c.metaFeatures, c.cfg.Data.BatchSize)

	c.logger.Info().
		Str("dataset_type", req.datasetType).
		Int("eval_index", req.evalIndex).
		Int("sessions", loader.Len()).
		Msg("Evaluating")

	workers := c.cfg.Evaluation.Parallelism
	if workers < 1 {
		workers = 1
	}

	in := make(chan *model.Batch, workers)
	out := make(chan scoredBatch, workers)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(in)
		for {
			b, err := loader.Next()
			if errors.Is(err, ErrExhausted) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case in <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var scorers sync.WaitGroup
	for i := 0; i < workers; i++ {
		scorers.Add(1)
		eg.Go(func() error {
			defer scorers.Done()
			for b := range in {
				sb, err := c.scoreBatch(b)
				if err != nil {
					return err
				}
				if sb.ex.Len() == 0 {
					continue
				}
				select {
				case out <- sb:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		scorers.Wait()
		close(out)
	}()

	agg := ranking.NewAggregator(c.cutoffs)
	var collectErr error
	var lossSum float64
	var examples int
	attentionLogged := false
	for sb := range out {
		if collectErr != nil {
			continue // drain so workers never block
		}
		if err := agg.Update(sb.scores, sb.ex.Labels); err != nil {
			collectErr = err
			continue
		}
		lossSum += sb.loss * float64(sb.ex.Len())
		examples += sb.ex.Len()
		metrics.BatchesProcessed.WithLabelValues(phase).Inc()
		metrics.ExamplesProcessed.WithLabelValues(phase).Add(float64(sb.ex.Len()))

		// Row and weight construction only happens when a sink will
		// consume it; nil-safe Append alone would still pay for the
		// arguments.
		if req.predictions.Enabled() {
			req.predictions.Append(c.predictionRows(req.datasetType, sb))
		}
		if req.attention.Enabled() && !attentionLogged {
			desc := fmt.Sprintf("%s_%04d", req.datasetType, req.evalIndex)
			req.attention.Log(desc, sb.batch.Items, prefixWeights(sb.batch.Items))
			attentionLogged = true
		}
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate %s (eval index %d): %w", req.datasetType, req.evalIndex, err)
	}
	if collectErr != nil {
		return nil, fmt.Errorf("evaluate %s (eval index %d): %w", req.datasetType, req.evalIndex, collectErr)
	}

	results := agg.Compute()
	if examples > 0 {
		results["loss"] = lossSum / float64(examples)
	}
	return results, nil
}

// scoreBatch runs the forward pass and full-vocabulary scoring for one
// batch under the read lock.
func (c *Controller) scoreBatch(b *model.Batch) (scoredBatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := c.encoder.Forward(b.Items)
	ex, err := model.ExtractValid(states, b.Labels, model.PadToken)
	if err != nil {
		return scoredBatch{}, err
	}
	if ex.Len() == 0 {
		return scoredBatch{batch: b}, nil
	}

	scores, err := c.head.Scores(ex.States)
	if err != nil {
		return scoredBatch{}, err
	}
	loss, err := model.NLLLoss(scores, ex.Labels)
	if err != nil {
		return scoredBatch{}, err
	}
	return scoredBatch{batch: b, ex: ex, scores: scores, loss: loss}, nil
}

// predictionRows converts one scored batch into prediction-log rows.
func (c *Controller) predictionRows(datasetType string, sb scoredBatch) []sink.Row {
	seqLen := sb.batch.SeqLen()
	rows := make([]sink.Row, 0, len(sb.scores))
	for i, scores := range sb.scores {
		rank := ranking.Rank(scores, int(sb.ex.Labels[i]))
		point := ranking.PointMetrics(rank, c.cutoffs)
		vals := make([]float64, len(c.metricKeys))
		for j, key := range c.metricKeys {
			vals[j] = point[key]
		}
		ids, topScores := ranking.TopK(scores, c.cfg.Sinks.Predictions.TopK)

		row := sink.Row{
			DatasetType:  datasetType,
			Metrics:      vals,
			RelevantItem: sb.ex.Labels[i],
			RecItemIDs:   ids,
			RecScores:    topScores,
		}
		if len(c.metaFeatures) > 0 {
			batchRow := sb.ex.Positions[i] / seqLen
			row.Meta = make([]database.MetaValue, len(c.metaFeatures))
			for fi, f := range c.metaFeatures {
				col := sb.batch.Meta[f.Name]
				if f.Dtype == schema.DtypeFloat64 {
					row.Meta[fi] = database.MetaValue{Float: col.Floats[batchRow]}
				} else {
					row.Meta[fi] = database.MetaValue{Int: col.Ints[batchRow]}
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// prefixWeights returns the encoder's effective attention at the final
// position of each row: uniform weight over the non-padding prefix,
// zero on padding.
func prefixWeights(items [][]int64) [][]float64 {
	weights := make([][]float64, len(items))
	for row, seq := range items {
		w := make([]float64, len(seq))
		n := 0
		for _, id := range seq {
			if id != model.PadToken {
				n++
			}
		}
		if n > 0 {
			inv := 1 / float64(n)
			for pos, id := range seq {
				if id != model.PadToken {
					w[pos] = inv
				}
			}
		}
		weights[row] = w
	}
	return weights
}
