package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/fit"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/types"
)

// progressEvery is how many events pass between progress log lines.
const progressEvery = 100

// EventSource yields events until io.EOF. *events.Reader is one.
type EventSource interface {
	Next() (*types.Event, error)
}

// RunInfo labels a pass over an event source.
type RunInfo struct {
	RunID  string
	Run    int
	Source string
}

// Pipeline fits events one after the other and hands every result to Sink.
type Pipeline struct {
	Driver   *fit.Driver
	Geometry *types.Geometry
	Sink     storage.ResultSink

	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewPipeline returns a pipeline writing to sink.
func NewPipeline(d *fit.Driver, geom *types.Geometry, sink storage.ResultSink, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		Driver:   d,
		Geometry: geom,
		Sink:     sink,
		logger:   log.Or(logger),
		now:      time.Now,
	}
}

// Process fits every event of src and stores the run summary once the source
// is exhausted or ctx is cancelled. The summary covers the events processed
// so far even when an error is returned.
func (p *Pipeline) Process(ctx context.Context, src EventSource, info RunInfo) (*types.RunSummary, error) {
	b := newSummaryBuilder(info.RunID, info.Run, info.Source, p.now())
	runErr := p.loop(ctx, src, info, b)

	sum := b.Finish(p.now())
	// The run record is written even when ctx was cancelled.
	if err := p.Sink.StoreRun(context.WithoutCancel(ctx), sum); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("storing run summary: %w", err))
	}

	p.logger.Infow("run finished",
		"run_id", sum.RunID, "events", sum.Events, "converged", sum.Converged,
		"not_converged", sum.NotConverged, "rejected", sum.Rejected, "failed", sum.Failed,
		"mean_gof", sum.MeanGOF, "mean_slant_depth", sum.MeanSlantDepth)
	return sum, runErr
}

func (p *Pipeline) loop(ctx context.Context, src EventSource, info RunInfo, b *summaryBuilder) error {
	for {
		if err := ctx.Err(); err != nil {
			p.logger.Warnw("run interrupted", "run_id", info.RunID, "events", b.sum.Events)
			return err
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading event %d of %s: %w", b.sum.Events+1, info.Source, err)
		}

		res := p.Driver.FitEvent(p.Geometry, ev)
		res.RunID = info.RunID
		b.Add(res)

		if err := p.Sink.StoreResult(ctx, res); err != nil {
			return fmt.Errorf("storing result of event %d: %w", ev.ID, err)
		}

		if b.sum.Events%progressEvery == 0 {
			p.logger.Infow("fitting", "run_id", info.RunID, "events", b.sum.Events, "converged", b.sum.Converged)
		}
	}
}
