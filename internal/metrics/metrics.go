// Package metrics счётчики и гистограммы Prometheus, общие для сервисов.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace   = "gateway_keeper"
	maxLabelLen = 64
)

var (
	nodeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "node_operations_total",
			Help:      "Операции с учётными записями на узлах по узлу, операции и результату",
		},
		[]string{"node", "op", "result"},
	)
	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "duration_seconds",
			Help:      "Длительность прохода по всем узлам",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)
	payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "events_total",
			Help:      "Обработанные события платежей по статусу и исходу",
		},
		[]string{"status", "outcome"},
	)
	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "notifications_total",
			Help:      "Опубликованные уведомления по типу",
		},
		[]string{"kind"},
	)
	expirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "expirations_total",
			Help:      "Подписки, переведённые в истёкшие",
		},
	)
)

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// NodeOperation учитывает результат операции op на узле node.
func NodeOperation(node, op string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	nodeOperations.WithLabelValues(sanitizeLabel(node), op, result).Inc()
}

// ObserveReconcile длительность прохода op в секундах.
func ObserveReconcile(op string, seconds float64) {
	reconcileDuration.WithLabelValues(op).Observe(seconds)
}

// PaymentEvent учитывает обработку события платежа.
func PaymentEvent(status, outcome string) {
	payments.WithLabelValues(sanitizeLabel(status), outcome).Inc()
}

// Notification учитывает опубликованное уведомление.
func Notification(kind string) {
	notifications.WithLabelValues(kind).Inc()
}

// Expiration учитывает истечение подписки.
func Expiration() {
	expirations.Inc()
}
