package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/KodeKenobi/nusuru-admin/internal/auth"
	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
)

// Dispatcher runs the whole pipeline for one request: validate, obtain a
// bearer token, fan out and aggregate.
type Dispatcher struct {
	tokens  auth.TokenSource
	engine  *DispatchEngine
	status  StatusRecorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	// statusTimeout bounds each status write.
	statusTimeout time.Duration
}

const defaultStatusTimeout = 5 * time.Second

func NewDispatcher(
	tokens auth.TokenSource,
	engine *DispatchEngine,
	status StatusRecorder,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	timeout time.Duration,
) *Dispatcher {
	if status == nil {
		status = NopStatusRecorder{}
	}
	return &Dispatcher{
		tokens:  tokens,
		engine:  engine,
		status:  status,
		metrics: metrics,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,

		statusTimeout: defaultStatusTimeout,
	}
}

// Dispatch validates req and delivers it to every target. It fills in
// req.RequestID when the caller did not supply one.
//
// The returned error is a *ValidationError, an auth.ErrSigning or an
// auth.ErrExchange; per-token failures only ever appear in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchReport, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := d.logger.With(slog.String("request_id", req.RequestID))

	in, err := validate(req)
	if err != nil {
		log.Debug("rejected dispatch request", slog.Any("error", err))
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	d.record(ctx, func(sctx context.Context) {
		d.status.MarkProcessing(sctx, req.RequestID, len(in.targets))
	})

	token, err := d.tokens.Token(ctx)
	d.metrics.ObserveExchange(err)
	if err != nil {
		log.Error("failed to obtain access token", slog.Any("error", err))
		d.record(ctx, func(sctx context.Context) {
			d.status.MarkFailed(sctx, req.RequestID, err.Error())
		})
		return nil, err
	}

	results := d.engine.Dispatch(ctx, token.AccessToken, in.targets, in.notification, in.wirePayload(d.now()))
	report := models.NewDispatchReport(results)
	d.metrics.AddDeliveries(report.SuccessCount, report.FailureCount)
	d.record(ctx, func(sctx context.Context) {
		d.status.MarkCompleted(sctx, req.RequestID, report)
	})

	log.Info("dispatch completed",
		slog.Int("total", report.Total),
		slog.Int("success", report.SuccessCount),
		slog.Int("failure", report.FailureCount))

	return report, nil
}

// record runs one status write detached from the pipeline deadline but
// bounded by statusTimeout, so a slow store cannot hold the response.
func (d *Dispatcher) record(ctx context.Context, write func(context.Context)) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.statusTimeout)
	defer cancel()
	write(sctx)
}
