package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgebox/internal/common/mq"
	"judgebox/internal/judge/report"
	"judgebox/pkg/errors"
)

// ReportEvent is the payload published when a run commits.
type ReportEvent struct {
	RunID     string         `json:"runId"`
	Score     int            `json:"score"`
	Status    report.Status  `json:"status"`
	Message   string         `json:"message"`
	Details   report.Details `json:"details"`
	CreatedAt int64          `json:"createdAt"`
}

// MQReportPublisher publishes the final report to a message queue.
type MQReportPublisher struct {
	producer mq.Producer
	topic    string
	runID    string
}

// NewMQReportPublisher creates a publisher for one run.
func NewMQReportPublisher(producer mq.Producer, topic, runID string) *MQReportPublisher {
	return &MQReportPublisher{producer: producer, topic: topic, runID: runID}
}

// Finish publishes the committed status and details keyed by run id.
func (p *MQReportPublisher) Finish(ctx context.Context, status LiveStatus, details report.Details) error {
	if p == nil || p.producer == nil {
		return errors.New(errors.ServiceUnavailable).WithMessage("report publisher is not configured")
	}
	if p.topic == "" {
		return errors.New(errors.InvalidParams).WithMessage("report topic is required")
	}
	if p.runID == "" {
		return errors.ValidationError("run_id", "required")
	}
	event := ReportEvent{
		RunID:     p.runID,
		Score:     status.Score,
		Status:    status.Status,
		Message:   status.Message,
		Details:   details,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, errors.ReportInvalid, "marshal report event")
	}
	message := mq.NewMessage(p.runID, payload)
	message.SetHeader("status", string(status.Status))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return errors.Wrapf(err, errors.ServiceUnavailable, "publish report event")
	}
	return nil
}
