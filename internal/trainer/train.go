// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/model"
)

// trainWindow fits the model on the window's training sessions for the
// configured number of epochs. Each epoch walks a freshly shuffled copy
// of the sessions through a fresh single-pass loader.
func (c *Controller) trainWindow(ctx context.Context, w Window, sessions []database.Session) error {
	start := time.Now()
	defer func() {
		metrics.WindowPhaseDuration.WithLabelValues("train").Observe(time.Since(start).Seconds())
	}()

	epochs := c.cfg.Training.Epochs
	perEpoch := NewLoader(sessions, nil, c.cfg.Data.BatchSize).Batches()
	planned := int64(epochs) * int64(perEpoch)

	if c.cfg.Training.ResetLRPerWindow {
		c.schedule.Reset()
		c.schedule.SetHorizon(planned)
	} else {
		c.schedule.SetHorizon(c.schedule.Step() + planned)
	}

	c.logger.Info().
		Ints("train_indices", w.TrainIndices).
		Int("sessions", len(sessions)).
		Int("epochs", epochs).
		Msg("Training window")

	//nolint:gosec // G404: math/rand is acceptable for epoch shuffling (not security)
	rng := rand.New(rand.NewSource(c.cfg.Model.Seed ^ int64(w.EvalIndex)))

	var lossSum float64
	var steps int64
	for epoch := 0; epoch < epochs; epoch++ {
		loader := NewLoader(shuffled(sessions, rng), nil, c.cfg.Data.BatchSize)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			b, err := loader.Next()
			if errors.Is(err, ErrExhausted) {
				break
			}
			if err != nil {
				return err
			}

			loss, examples, err := c.trainBatch(b)
			if err != nil {
				return fmt.Errorf("train window (eval index %d): %w", w.EvalIndex, err)
			}
			if examples == 0 {
				continue
			}

			lossSum += loss
			steps++
			metrics.TrainLoss.Set(loss)
			metrics.BatchesProcessed.WithLabelValues("train").Inc()
			metrics.ExamplesProcessed.WithLabelValues("train").Add(float64(examples))
			c.events.TrainProgress(ctx, w.EvalIndex, epoch, c.Status().GlobalStep, loss)
		}
	}

	if steps > 0 {
		c.logger.Info().
			Int("eval_index", w.EvalIndex).
			Int64("steps", steps).
			Float64("mean_loss", lossSum/float64(steps)).
			Msg("Window training finished")
	}
	return nil
}

// trainBatch performs one optimizer step: forward, label extraction,
// head update (full softmax or sampled) and the encoder-side gradient
// application, all against the same pre-step parameters.
func (c *Controller) trainBatch(b *model.Batch) (float64, int, error) {
	states := c.encoder.Forward(b.Items)
	ex, err := model.ExtractValid(states, b.Labels, model.PadToken)
	if err != nil {
		return 0, 0, err
	}
	if ex.Len() == 0 {
		return 0, 0, nil
	}

	lr := c.schedule.Next()

	c.mu.Lock()
	defer c.mu.Unlock()

	var loss float64
	var grads [][]float64
	if c.cfg.Training.NegativeSampling {
		negatives, err := c.sampler.Sample(c.cfg.Training.ExtraNegatives)
		if err != nil {
			return 0, 0, err
		}
		loss, grads, err = c.head.SGDStepSampled(ex.States, ex.Labels, candidateSet(ex.Labels, negatives), lr)
		if err != nil {
			return 0, 0, err
		}
	} else {
		loss, grads, err = c.head.SGDStep(ex.States, ex.Labels, lr)
		if err != nil {
			return 0, 0, err
		}
	}
	c.encoder.ApplySGD(b.Items, ex.Positions, grads, lr)

	c.globalStep++
	c.lastLoss = loss
	return loss, ex.Len(), nil
}

// candidateSet unions the batch's positive labels with the sampled
// negatives, keeping first occurrences. The result is the restricted
// vocabulary for one sampled softmax step.
func candidateSet(labels, negatives []int64) []int64 {
	seen := make(map[int64]bool, len(labels)+len(negatives))
	out := make([]int64, 0, len(labels)+len(negatives))
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, n := range negatives {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// shuffled returns a shuffled copy, leaving the input order intact for
// the passes that follow.
func shuffled(sessions []database.Session, rng *rand.Rand) []database.Session {
	out := make([]database.Session, len(sessions))
	copy(out, sessions)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
