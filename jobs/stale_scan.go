package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/dayclose"
	"github.com/odyssey-erp/backoffice/internal/discrepancy"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// StaleScanPayload overrides the configured threshold for a single run.
type StaleScanPayload struct {
	OlderThan time.Duration `json:"older_than,omitempty"`
}

// NewStaleScanTask builds a stale scan task. A zero olderThan uses the
// handler's configured threshold.
func NewStaleScanTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StaleScanPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDayCloseStaleScan, body, asynq.Queue(QueueDefault)), nil
}

// StaleDaySource is the read side of the day lifecycle the scan needs.
type StaleDaySource interface {
	ListOpenDaysBefore(ctx context.Context, cutoff time.Time) ([]dayclose.DailyRecord, error)
	LedgerPreview(ctx context.Context, date time.Time) (dayclose.LedgerView, error)
}

// StaleScanJob reports days still open past the threshold together with their
// flagged ledger rows. It never closes a day.
type StaleScanJob struct {
	Days      StaleDaySource
	OlderThan time.Duration
	Location  *time.Location
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// StaleScanResult summarises one run.
type StaleScanResult struct {
	Cutoff        time.Time
	StaleDays     int
	Warnings      int
	Criticals     int
	PreviewErrors int
}

// NewStaleScanJob wires dependencies for the stale scan handler.
func NewStaleScanJob(days StaleDaySource, olderThan time.Duration, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleScanJob {
	return &StaleScanJob{
		Days:      days,
		OlderThan: olderThan,
		Location:  loc,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes stale scan tasks.
func (j *StaleScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stale scan: handler not configured")
	}
	var payload StaleScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.OlderThan)
	return err
}

// Run executes one scan. olderThan falls back to the configured threshold.
func (j *StaleScanJob) Run(ctx context.Context, olderThan time.Duration) (result StaleScanResult, err error) {
	if j.Days == nil {
		return StaleScanResult{}, errors.New("stale scan: day source not configured")
	}
	if olderThan <= 0 {
		olderThan = j.OlderThan
	}
	if olderThan <= 0 {
		olderThan = 36 * time.Hour
	}

	tracker := j.metrics().Track(TaskDayCloseStaleScan)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.now()
	result.Cutoff = shared.BusinessDateAt(start.Add(-olderThan), j.Location)
	logger := j.logger().With(slog.String("cutoff", result.Cutoff.Format(shared.DateLayout)))

	days, err := j.Days.ListOpenDaysBefore(ctx, result.Cutoff)
	if err != nil {
		logger.Error("list open days", slog.Any("error", err))
		return result, err
	}
	result.StaleDays = len(days)
	j.metrics().AddStaleDays(len(days))

	for _, day := range days {
		dayLogger := logger.With(slog.String("date", day.Date.Format(shared.DateLayout)), slog.Int64("day_id", day.ID))
		dayLogger.Warn("business day still open")

		view, previewErr := j.Days.LedgerPreview(ctx, day.Date)
		if previewErr != nil {
			result.PreviewErrors++
			dayLogger.Warn("ledger preview failed", slog.Any("error", previewErr))
			continue
		}
		for _, flag := range view.Flags {
			switch flag.Result.Severity {
			case discrepancy.SeverityWarning:
				result.Warnings++
			case discrepancy.SeverityCritical:
				result.Criticals++
			default:
				continue
			}
			dayLogger.Warn("ledger row flagged",
				slog.Int64("ingredient_id", flag.IngredientID),
				slog.String("ingredient", flag.IngredientName),
				slog.String("severity", string(flag.Result.Severity)),
				slog.String("expected", flag.Result.Expected.String()),
				slog.String("counted", flag.Result.Actual.String()),
				slog.String("percent", flag.Result.Percent.String()),
			)
		}
	}
	j.metrics().AddLedgerFlags(string(discrepancy.SeverityWarning), result.Warnings)
	j.metrics().AddLedgerFlags(string(discrepancy.SeverityCritical), result.Criticals)

	logger.Info("completed stale day scan",
		slog.Int("stale_days", result.StaleDays),
		slog.Int("warnings", result.Warnings),
		slog.Int("criticals", result.Criticals),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *StaleScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDayCloseStaleScan))
	}
	return slog.Default().With(slog.String("job", TaskDayCloseStaleScan))
}

func (j *StaleScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StaleScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
