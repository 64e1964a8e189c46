package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Publisher publishes pipeline events over Redis pub/sub. Delivery is
// fire-and-forget: subscribers that miss events recover from the durable
// state document, so publish failures are logged, never propagated.
//
// A nil *Publisher is valid and publishes nothing.
type Publisher struct {
	client redis.UniversalClient
}

// NewPublisher creates a new Publisher.
func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// PublishStepStatus broadcasts a step lifecycle transition.
func (p *Publisher) PublishStepStatus(ctx context.Context, reportID string, step models.StepName, status models.StepStatus) {
	if p == nil {
		return
	}
	p.publish(ctx, ReportChannel(reportID), StepStatusPayload{
		Type:      EventTypeStepStatus,
		ReportID:  reportID,
		Step:      step,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

// PublishProgress broadcasts a progress snapshot.
func (p *Publisher) PublishProgress(ctx context.Context, reportID string, currentStep models.StepName, totalSteps, completedSteps, percent int) {
	if p == nil {
		return
	}
	p.publish(ctx, ReportChannel(reportID), ProgressPayload{
		Type:            EventTypeProgress,
		ReportID:        reportID,
		CurrentStep:     currentStep,
		TotalSteps:      totalSteps,
		CompletedSteps:  completedSteps,
		PercentComplete: percent,
		Timestamp:       time.Now().Format(time.RFC3339Nano),
	})
}

// PublishReportStatus broadcasts a terminal status to the report channel
// and the global channel.
func (p *Publisher) PublishReportStatus(ctx context.Context, reportID string, status models.PipelineStatus, errMsg string) {
	if p == nil {
		return
	}
	payload := ReportStatusPayload{
		Type:      EventTypeReportStatus,
		ReportID:  reportID,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	p.publish(ctx, ReportChannel(reportID), payload)
	p.publish(ctx, GlobalReportsChannel, payload)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload", "channel", channel, "error", err)
		return
	}
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		slog.Warn("Failed to publish event", "channel", channel, "error", err)
	}
}

// Subscribe returns a subscription for one report's channel. Callers own
// the subscription and must Close it.
func (p *Publisher) Subscribe(ctx context.Context, reportID string) (*redis.PubSub, error) {
	if p == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	return p.client.Subscribe(ctx, ReportChannel(reportID)), nil
}
