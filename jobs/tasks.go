package jobs

import (
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDayCloseStaleScan finds business days left open too long.
	TaskDayCloseStaleScan = "dayclose:stale_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)
