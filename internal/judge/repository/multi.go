package repository

import (
	"context"

	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

// MultiLiveStatusSink writes to a primary sink and best-effort mirrors.
// Only primary failures are returned.
type MultiLiveStatusSink struct {
	primary LiveStatusSink
	mirrors []LiveStatusSink
}

// NewMultiLiveStatusSink combines sinks; nil mirrors are skipped.
func NewMultiLiveStatusSink(primary LiveStatusSink, mirrors ...LiveStatusSink) *MultiLiveStatusSink {
	out := &MultiLiveStatusSink{primary: primary}
	for _, m := range mirrors {
		if m != nil {
			out.mirrors = append(out.mirrors, m)
		}
	}
	return out
}

// SaveLive writes the primary first, then every mirror.
func (m *MultiLiveStatusSink) SaveLive(ctx context.Context, status LiveStatus) error {
	if m.primary != nil {
		if err := m.primary.SaveLive(ctx, status); err != nil {
			return err
		}
	}
	for _, mirror := range m.mirrors {
		if err := mirror.SaveLive(ctx, status); err != nil {
			logger.Warn(ctx, "mirror live status failed", zap.Error(err))
		}
	}
	return nil
}
