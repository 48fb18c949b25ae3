// Package runtime drives the periodic ingestion loop: on each tick the
// agent's mentions are fetched from the platform client and every mention's
// thread is reconstructed and persisted. Context cancellation is the only
// way to stop a running ingestor.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ahoyle/recall/thread"
)

const defaultMentionLimit = 20

// Ingestor polls a platform client on a schedule and feeds mentions into the
// thread builder.
type Ingestor struct {
	client       thread.Client
	builder      *thread.Builder
	schedule     ScheduleParser
	mentionLimit int
	logger       zerolog.Logger
}

// NewIngestor creates an Ingestor. schedule accepts anything ParseSchedule does.
func NewIngestor(client thread.Client, builder *thread.Builder, schedule string, mentionLimit int, logger zerolog.Logger) (*Ingestor, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if builder == nil {
		return nil, errors.New("builder is nil")
	}
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if mentionLimit <= 0 {
		mentionLimit = defaultMentionLimit
	}
	return &Ingestor{
		client:       client,
		builder:      builder,
		schedule:     parsed,
		mentionLimit: mentionLimit,
		logger:       logger.With().Str("component", "ingestor").Logger(),
	}, nil
}

// Start runs the polling loop until ctx is cancelled. The first poll happens
// immediately; subsequent polls follow the schedule.
func (i *Ingestor) Start(ctx context.Context) {
	i.logger.Info().Int("mentionLimit", i.mentionLimit).Msg("Starting ingestor")

	i.poll(ctx)

	for {
		next := i.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			i.logger.Info().Msg("Ingestor stopped: context cancelled")
			return
		case <-timer.C:
			i.poll(ctx)
		}
	}
}

// poll fetches mentions and ingests each one's thread. The fetch retries
// with exponential backoff; ingestion failures for individual mentions are
// logged and skipped so one bad thread cannot stall the loop.
func (i *Ingestor) poll(ctx context.Context) {
	var mentions []*thread.Node
	fetch := func() error {
		var err error
		mentions, err = i.client.GetMentions(ctx, i.mentionLimit)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(fetch, b); err != nil {
		i.logger.Error().Err(err).Msg("Failed to fetch mentions, will retry next tick")
		return
	}

	if len(mentions) == 0 {
		return
	}
	i.logger.Info().Int("numMentions", len(mentions)).Msg("Ingesting mention threads")

	for _, mention := range mentions {
		if ctx.Err() != nil {
			return
		}
		nodes, err := i.builder.BuildThread(ctx, mention)
		if err != nil {
			i.logger.Error().
				Str("native_id", mention.ID).
				Err(err).
				Msg("Failed to ingest mention thread")
			continue
		}
		i.logger.Debug().
			Str("native_id", mention.ID).
			Int("threadLength", len(nodes)).
			Msg("Mention thread ingested")
	}
}
