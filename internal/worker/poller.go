package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-reconciler/internal/dedup"
	"order-reconciler/internal/models"
	"order-reconciler/internal/service"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// DefaultPollInterval is the pause between two polling cycles
const DefaultPollInterval = 20 * time.Second

// FeedSource returns feed rows newer than a watermark
type FeedSource interface {
	FetchEventsSince(ctx context.Context, watermark string) ([]models.FeedRow, error)
}

// Ingester is the reconciliation pipeline
type Ingester interface {
	Ingest(ctx context.Context, event models.RawOrderEvent) (service.Result, error)
}

// CycleStats summarizes one polling cycle
type CycleStats struct {
	Rows      int
	Groups    int
	Statuses  map[service.Status]int
	Watermark string
}

// FeedPoller periodically pulls new rows from the order feed
type FeedPoller struct {
	feed     FeedSource
	pipeline Ingester
	state    dedup.Store
	feedName string
	interval time.Duration
	logger   *zap.Logger
}

// NewFeedPoller creates a poller; feedName keys the watermark
func NewFeedPoller(feed FeedSource, pipeline Ingester, state dedup.Store, feedName string, interval time.Duration) *FeedPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FeedPoller{
		feed:     feed,
		pipeline: pipeline,
		state:    state,
		feedName: feedName,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs a cycle immediately and then once per interval until ctx is cancelled
func (p *FeedPoller) Start(ctx context.Context) error {
	p.logger.Info("Starting feed poller",
		zap.String("feed", p.feedName),
		zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("Polling cycle failed", zap.String("feed", p.feedName), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Stopping feed poller", zap.String("feed", p.feedName))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle fetches, groups and ingests everything newer than the watermark.
// After the first hard abort the watermark is frozen for the rest of the cycle
// so the aborted group is fetched again next time.
func (p *FeedPoller) RunCycle(ctx context.Context) (CycleStats, error) {
	ctx, span := util.StartSpan(ctx, "FeedPoller.RunCycle")
	defer span.End()

	stats := CycleStats{Statuses: make(map[service.Status]int)}

	watermark, err := p.state.GetWatermark(ctx, p.feedName)
	if err != nil {
		util.FeedPollCyclesTotal.WithLabelValues("state_error").Inc()
		return stats, fmt.Errorf("failed to read watermark: %w", err)
	}
	stats.Watermark = watermark

	rows, err := p.feed.FetchEventsSince(ctx, watermark)
	if err != nil {
		util.FeedPollCyclesTotal.WithLabelValues("fetch_error").Inc()
		util.RecordError(span, err)
		return stats, fmt.Errorf("failed to fetch feed: %w", err)
	}
	stats.Rows = len(rows)

	groups := models.GroupRows(rows)
	stats.Groups = len(groups)

	frozen := false
	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		if group.Composite() <= watermark {
			continue
		}

		group.Source = models.SourcePoll
		res, err := p.pipeline.Ingest(ctx, group)
		stats.Statuses[res.Status]++

		var abort *service.AbortError
		switch {
		case errors.As(err, &abort):
			frozen = true
		case err != nil:
			p.logger.Warn("Skipping unprocessable order group",
				zap.String("phone", group.Phone),
				zap.String("date", group.Date),
				zap.String("time", group.Time),
				zap.Error(err))
		}

		if frozen {
			continue
		}
		// the group was ingested; its watermark is recorded even when the poller is stopping
		if err := p.state.AdvanceWatermark(context.WithoutCancel(ctx), p.feedName, group.Composite()); err != nil {
			p.logger.Error("Failed to advance watermark", zap.String("feed", p.feedName), zap.Error(err))
			continue
		}
		stats.Watermark = group.Composite()
	}

	result := "ok"
	if frozen {
		result = "aborted"
	}
	util.FeedPollCyclesTotal.WithLabelValues(result).Inc()

	if stats.Groups > 0 {
		p.logger.Info("Polling cycle finished",
			zap.String("feed", p.feedName),
			zap.Int("rows", stats.Rows),
			zap.Int("groups", stats.Groups),
			zap.Int("created", stats.Statuses[service.StatusCreated]),
			zap.Int("partial", stats.Statuses[service.StatusPartial]),
			zap.Int("failed", stats.Statuses[service.StatusFailed]),
			zap.Int("skipped", stats.Statuses[service.StatusSkipped]),
			zap.Int("aborted", stats.Statuses[service.StatusAborted]),
			zap.String("watermark", stats.Watermark))
	}
	return stats, nil
}
