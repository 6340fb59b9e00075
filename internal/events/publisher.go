// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chronorec/chronorec/internal/config"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/trainer"
)

// Publisher emits run lifecycle events over the configured transport.
// Every method is best-effort: failures are logged and counted, never
// returned to the trainer.
type Publisher struct {
	cfg     *config.EventsConfig
	logger  zerolog.Logger
	pub     message.Publisher
	sub     message.Subscriber
	server  *EmbeddedServer
	limiter *rate.Limiter

	mu     sync.Mutex
	runID  string
	closed bool
}

var _ trainer.Events = (*Publisher)(nil)

// New creates a publisher on the configured transport. The gochannel
// transport keeps messages in-process; the nats transport publishes to
// JetStream, starting an embedded server first when configured.
func New(cfg *config.EventsConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg == nil {
		return nil, errors.New("events: nil config")
	}

	logger = logger.With().Str("component", "events").Logger()
	p := &Publisher{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.ProgressPerSecond), progressBurst(cfg.ProgressPerSecond)),
	}

	wmLogger := NewWatermillLogger(logger)
	switch cfg.Transport {
	case config.TransportGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		p.pub = ch
		p.sub = ch
	case config.TransportNATS:
		if err := p.connectNATS(wmLogger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("events: unknown transport %q", cfg.Transport)
	}

	logger.Info().Str("transport", cfg.Transport).Str("topic_prefix", cfg.TopicPrefix).Msg("Event publisher ready")
	return p, nil
}

// connectNATS provisions the stream and builds the JetStream publisher,
// optionally against an embedded server.
func (p *Publisher) connectNATS(wmLogger watermill.LoggerAdapter) error {
	url := p.cfg.NATSURL
	if p.cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(p.cfg.StoreDir)
		if err != nil {
			return err
		}
		p.server = srv
		url = srv.ClientURL()
		p.logger.Info().Str("url", url).Msg("Embedded NATS server started")
	}
	if url == "" {
		url = natsgo.DefaultURL
	}

	if err := ensureStream(context.Background(), url, p.cfg.TopicPrefix); err != nil {
		p.shutdownServer()
		return err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			// The stream is provisioned up front by ensureStream.
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		p.shutdownServer()
		return fmt.Errorf("events: create nats publisher: %w", err)
	}
	p.pub = pub
	return nil
}

// Subscriber returns the in-process subscriber for the gochannel
// transport, or nil when events flow through NATS and consumers connect
// to the broker directly.
func (p *Publisher) Subscriber() message.Subscriber {
	return p.sub
}

// RunStarted records the run identity and announces the window plan.
func (p *Publisher) RunStarted(ctx context.Context, runID, policy string, startIndex, finalIndex int) {
	p.mu.Lock()
	p.runID = runID
	p.mu.Unlock()

	ev := p.newEvent(TypeRunStarted)
	ev.Policy = policy
	ev.StartIndex = startIndex
	ev.FinalIndex = finalIndex
	p.publish(ctx, ev)
}

// TrainProgress reports one SGD batch, subject to the rate limit.
func (p *Publisher) TrainProgress(ctx context.Context, evalIndex, epoch int, step int64, loss float64) {
	if !p.limiter.Allow() {
		metrics.EventsDropped.WithLabelValues(TypeTrainProgress).Inc()
		return
	}

	ev := p.newEvent(TypeTrainProgress)
	ev.EvalIndex = evalIndex
	ev.Epoch = epoch
	ev.GlobalStep = step
	ev.Loss = loss
	p.publish(ctx, ev)
}

// WindowCompleted announces one recorded window with its prefixed
// metric results.
func (p *Publisher) WindowCompleted(ctx context.Context, evalIndex int, results map[string]float64) {
	ev := p.newEvent(TypeWindowCompleted)
	ev.EvalIndex = evalIndex
	ev.Results = results
	p.publish(ctx, ev)
}

// RunCompleted announces the end of the run with the averaged summary.
func (p *Publisher) RunCompleted(ctx context.Context, summary map[string]float64) {
	ev := p.newEvent(TypeRunCompleted)
	ev.Summary = summary
	p.publish(ctx, ev)
}

// Close shuts down the transport and, when present, the embedded
// server. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events: close publisher: %w", err))
	}
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("events: shutdown embedded server: %w", err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// shutdownServer tears down the embedded server after a failed
// transport setup so New never leaks a running broker.
func (p *Publisher) shutdownServer() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Embedded NATS shutdown failed")
	}
	p.server = nil
}

func (p *Publisher) newEvent(eventType string) *Event {
	p.mu.Lock()
	runID := p.runID
	p.mu.Unlock()

	return &Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Type:          eventType,
		RunID:         runID,
		At:            time.Now().UTC(),
	}
}

func (p *Publisher) publish(ctx context.Context, ev *Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		metrics.EventsDropped.WithLabelValues(ev.Type).Inc()
		return
	}

	data, err := Serialize(ev)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(ev.Type).Inc()
		p.logger.Warn().Err(err).Str("type", ev.Type).Msg("Event serialization failed")
		return
	}

	msg := message.NewMessage(ev.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", ev.Type)
	if ev.RunID != "" {
		msg.Metadata.Set("run_id", ev.RunID)
	}

	if err := p.pub.Publish(p.topic(ev.Type), msg); err != nil {
		metrics.EventsDropped.WithLabelValues(ev.Type).Inc()
		p.logger.Warn().Err(err).Str("type", ev.Type).Msg("Event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
}

func (p *Publisher) topic(eventType string) string {
	return p.cfg.TopicPrefix + "." + eventType
}

// progressBurst sizes the limiter burst to roughly one second of
// progress events, with a floor of one.
func progressBurst(perSecond float64) int {
	if perSecond < 1 {
		return 1
	}
	return int(perSecond)
}
