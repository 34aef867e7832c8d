package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the ledger core
// 台帳コアのPrometheusメトリクス

var (
	movementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_total",
		Help: "Total number of committed stock movements by movement type",
	}, []string{"movement_type"})

	movementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movement_failures_total",
		Help: "Total number of rejected movement requests by reason",
	}, []string{"reason"})

	movementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_movement_duration_seconds",
		Help:    "Latency of RecordMovement from validation to commit",
		Buckets: prometheus.DefBuckets,
	})

	activeAlerts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_active_alerts",
		Help: "Number of currently open (non-resolved) stock alerts by type",
	}, []string{"alert_type"})
)

// observeMovement records a committed movement
// コミットされた移動を計測
func observeMovement(movementType MovementType, started time.Time) {
	movementsTotal.WithLabelValues(string(movementType)).Inc()
	movementDuration.Observe(time.Since(started).Seconds())
}

// observeMovementFailure records a rejected movement by failure reason
// 失敗理由別に移動の拒否を計測
func observeMovementFailure(err error) {
	movementFailuresTotal.WithLabelValues(failureReason(err)).Inc()
}

// failureReason maps an error to a bounded metric label
// エラーを有限のメトリクスラベルに対応付け
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrWarehouseNotFound),
		errors.Is(err, ErrLocationNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrSequenceExhausted):
		return "sequence_exhausted"
	case IsValidationError(err):
		return "validation"
	default:
		return "storage"
	}
}

// alertOpened / alertClosed track the open-alert gauge
// オープン中アラートのゲージを増減
func alertOpened(alertType AlertType) {
	activeAlerts.WithLabelValues(string(alertType)).Inc()
}

func alertClosed(alertType AlertType) {
	activeAlerts.WithLabelValues(string(alertType)).Dec()
}
