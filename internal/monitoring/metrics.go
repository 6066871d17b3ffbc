package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_reservation_attempts_total",
			Help: "Inventory reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_webhook_events_total",
			Help: "Payment provider webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxoffice_tickets_issued_total",
			Help: "Tickets minted by the issuance service",
		},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_checkin_scans_total",
			Help: "Check-in scan attempts by outcome",
		},
		[]string{"outcome"},
	)

	sweepReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_sweep_reclaimed_total",
			Help: "Rows reclaimed by the expiry sweeps",
		},
		[]string{"kind"},
	)
)

func ReservationAttempt(outcome string)  { reservationAttempts.WithLabelValues(outcome).Inc() }
func WebhookEvent(outcome string)        { webhookEvents.WithLabelValues(outcome).Inc() }
func TicketsIssued(n int)                { ticketsIssued.Add(float64(n)) }
func Scan(outcome string)                { scans.WithLabelValues(outcome).Inc() }
func SweepReclaimed(kind string, n int64) {
	sweepReclaimed.WithLabelValues(kind).Add(float64(n))
}
