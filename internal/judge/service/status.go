package service

import (
	"context"
	"fmt"
	"time"

	"judgebox/internal/judge/report"
	"judgebox/internal/judge/repository"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

func (o *Orchestrator) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.statusTimeout > 0 {
		return context.WithTimeout(ctx, o.statusTimeout)
	}
	return ctx, func() {}
}

func (o *Orchestrator) saveLive(ctx context.Context, status repository.LiveStatus) error {
	ctxStatus, cancel := o.statusContext(ctx)
	defer cancel()
	if err := o.live.SaveLive(ctxStatus, status); err != nil {
		logger.Error(ctx, "save live status failed", zap.Error(err))
		return err
	}
	return nil
}

// appendJob appends job to the run's Details and persists the new tree.
func (o *Orchestrator) appendJob(ctx context.Context, st *runState, job report.Job) error {
	next := st.details.AppendJob(job)
	ctxStatus, cancel := o.statusContext(ctx)
	defer cancel()
	if err := o.details.SaveDetails(ctxStatus, next); err != nil {
		logger.Error(ctx, "save details failed", zap.String("job", job.Name), zap.Error(err))
		return err
	}
	st.details = next
	logger.Info(ctx, "job completed", zap.String("job", job.Name), zap.String("status", string(job.Status)), zap.Int("score", job.Score))
	return nil
}

// finish writes the committed live status and hands the result to final sinks.
func (o *Orchestrator) finish(ctx context.Context, st *runState, score int, status report.Status) error {
	elapsed := o.now().Sub(st.started).Round(time.Millisecond)
	final := repository.LiveStatus{
		Score:   score,
		Status:  status,
		Message: fmt.Sprintf("Finished in %s", elapsed),
		Commit:  true,
	}

	summarized := st.details.WithSummary(fmt.Sprintf("Score %d/%d, %s", score, report.MaxScore, status))
	ctxStatus, cancel := o.statusContext(ctx)
	err := o.details.SaveDetails(ctxStatus, summarized)
	cancel()
	if err != nil {
		logger.Error(ctx, "save details failed", zap.Error(err))
		return err
	}
	st.details = summarized

	if err := o.saveLive(ctx, final); err != nil {
		return err
	}
	for _, sink := range o.finals {
		ctxFinal, cancel := o.statusContext(ctx)
		if err := sink.Finish(ctxFinal, final, st.details); err != nil {
			logger.Warn(ctx, "final sink failed", zap.Error(err))
		}
		cancel()
	}
	logger.Info(ctx, "judge finished", zap.Int("score", score), zap.String("status", string(status)), zap.Duration("elapsed", elapsed))
	return nil
}
