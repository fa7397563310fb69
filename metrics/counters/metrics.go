package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "connections_active",
	Help:      "Number of active ws connections",
}, []string{"tenant"})

var activeTransactionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "transactions_active",
	Help:      "Number of active transactions",
}, []string{"tenant"})

var transactionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "transaction_count",
	Help:      "Total number of transactions.",
}, []string{"tenant", "charge_point_id"})

var errorCounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "vendor_error_count",
	Help:      "Total number of errors by vendor code.",
}, []string{"tenant", "code", "charge_point_id"})

var powerCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "consumed_wh_total",
	Help:      "Total consumed energy in Wh.",
}, []string{"tenant", "charge_point_id"})

var powerRateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "current_power_rate",
	Help:      "Power rate on current transactions.",
}, []string{"tenant", "charge_point_id", "connector_id"})

func ObserveConnections(tenant string, count int) {
	if len(tenant) == 0 {
		return
	}
	connectionsGauge.With(prometheus.Labels{"tenant": tenant}).Set(float64(count))
}

func ObserveTransactions(tenant string, count int) {
	if len(tenant) == 0 {
		return
	}
	activeTransactionsGauge.With(prometheus.Labels{"tenant": tenant}).Set(float64(count))
}

func CountTransaction(tenant, chargePointId string) {
	if len(tenant) == 0 || len(chargePointId) == 0 {
		return
	}
	transactionCounter.With(prometheus.Labels{
		"tenant":          tenant,
		"charge_point_id": chargePointId,
	}).Inc()
}

func ObserveError(tenant, chargePointId, code string) {
	if len(tenant) == 0 || len(code) == 0 || len(chargePointId) == 0 {
		return
	}
	errorCounts.With(prometheus.Labels{
		"tenant":          tenant,
		"code":            code,
		"charge_point_id": chargePointId,
	}).Inc()
}

func CountConsumedPower(tenant, chargePointId string, wh float64) {
	if len(tenant) == 0 || len(chargePointId) == 0 || wh <= 0 {
		return
	}
	powerCounter.With(prometheus.Labels{
		"tenant":          tenant,
		"charge_point_id": chargePointId,
	}).Add(wh)
}

func ObservePowerRate(tenant, chargePointId, connectorId string, watts float64) {
	if len(tenant) == 0 {
		return
	}
	powerRateGauge.With(prometheus.Labels{
		"tenant":          tenant,
		"charge_point_id": chargePointId,
		"connector_id":    connectorId,
	}).Set(watts)
}
