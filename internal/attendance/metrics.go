package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	marksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courseattend_marks_applied_total",
		Help: "Attendance records upserted by bulk submissions.",
	})
	markFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courseattend_mark_failures_total",
		Help: "Per-student items that failed inside bulk submissions.",
	})
	monthlyReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courseattend_monthly_reports_total",
		Help: "Monthly aggregation queries served from the store.",
	})
)
