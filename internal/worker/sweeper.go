package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/service"
)

// ProcessingSweeper periodically reconciles in-flight lecture generation:
// it fails lectures stuck past the processing timeout and polls the
// generation service for jobs whose callback never arrived.
type ProcessingSweeper struct {
	lectures *service.LectureService
	cron     *cron.Cron
	spec     string
	logger   *zap.Logger
}

// NewProcessingSweeper builds a sweeper that runs every intervalMinutes.
func NewProcessingSweeper(lectures *service.LectureService, intervalMinutes int, logger *zap.Logger) *ProcessingSweeper {
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	return &ProcessingSweeper{
		lectures: lectures,
		cron:     cron.New(),
		spec:     fmt.Sprintf("@every %dm", intervalMinutes),
		logger:   logger,
	}
}

// Start schedules the sweep and begins running it in the background.
func (w *ProcessingSweeper) Start() error {
	if _, err := w.cron.AddFunc(w.spec, w.run); err != nil {
		return fmt.Errorf("schedule processing sweep: %w", err)
	}
	w.cron.Start()
	w.logger.Info("processing sweeper started", zap.String("schedule", w.spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (w *ProcessingSweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("processing sweeper stopped")
}

func (w *ProcessingSweeper) run() {
	ctx := context.Background()
	w.lectures.SweepStuck(ctx)
	w.lectures.PollInFlight(ctx)
}
