package service

import (
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons recorded by the enrollment metrics.
const (
	RejectValidation = "validation"
	RejectConflict   = "conflict"
	RejectCapacity   = "capacity"
	RejectInternal   = "internal"
)

// MetricsService encapsulates Prometheus instrumentation for enrollment activity.
type MetricsService struct {
	registry          *prometheus.Registry
	registrations     *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	transfers         *prometheus.CounterVec
	deletions         *prometheus.CounterVec
	logins            *prometheus.CounterVec
	divisionOccupancy *prometheus.GaugeVec
	cacheLookups      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	exports           *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_registrations_total",
		Help: "Students registered, by branch",
	}, []string{"branch"})

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_registration_rejections_total",
		Help: "Registrations refused, by reason",
	}, []string{"reason"})

	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_transfers_total",
		Help: "Branch transfers, by destination branch",
	}, []string{"branch"})

	deletions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_deletions_total",
		Help: "Students deleted, by branch",
	}, []string{"branch"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_logins_total",
		Help: "Login attempts, by role and outcome",
	}, []string{"role", "outcome"})

	divisionOccupancy := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recordkeeper_division_occupancy",
		Help: "Students seated per branch division at the last statistics read",
	}, []string{"branch", "division"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_profile_cache_lookups_total",
		Help: "Profile cache lookups, by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recordkeeper_profile_cache_latency_seconds",
		Help:    "Latency of profile cache operations",
		Buckets: prometheus.DefBuckets,
	})

	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordkeeper_exports_total",
		Help: "Branch exports written, by format",
	}, []string{"format"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(registrations, rejections, transfers, deletions, logins, divisionOccupancy, cacheLookups, cacheLatency, exports, goroutines)

	return &MetricsService{
		registry:          registry,
		registrations:     registrations,
		rejections:        rejections,
		transfers:         transfers,
		deletions:         deletions,
		logins:            logins,
		divisionOccupancy: divisionOccupancy,
		cacheLookups:      cacheLookups,
		cacheLatency:      cacheLatency,
		exports:           exports,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRegistration counts a successful registration.
func (m *MetricsService) RecordRegistration(branch string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(branch).Inc()
}

// RecordRejection counts a refused registration.
func (m *MetricsService) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordTransfer counts a branch change.
func (m *MetricsService) RecordTransfer(branch string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(branch).Inc()
}

// RecordDeletion counts a removed student.
func (m *MetricsService) RecordDeletion(branch string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(branch).Inc()
}

// RecordLogin counts a login attempt.
func (m *MetricsService) RecordLogin(role string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.logins.WithLabelValues(role, outcome).Inc()
}

// SetDivisionOccupancy publishes a division's current head count.
func (m *MetricsService) SetDivisionOccupancy(branch, division string, count int) {
	if m == nil {
		return
	}
	m.divisionOccupancy.WithLabelValues(branch, division).Set(float64(count))
}

// RecordCacheOperation records a cache hit or miss and its latency.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordExport counts a written export file.
func (m *MetricsService) RecordExport(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

// WriteTextfile dumps every metric in the node-exporter textfile format.
func (m *MetricsService) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
