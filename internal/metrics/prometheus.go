package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	dispatchedTotal    prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram
	lockContendedTotal prometheus.Counter

	// Dispatcher metrics
	publishedTotal     *prometheus.CounterVec
	publishErrorsTotal *prometheus.CounterVec
	delayPublished     prometheus.Histogram

	// Consumer metrics
	receivedTotal    *prometheus.CounterVec
	handlerOutcomes  *prometheus.CounterVec
	handlerDuration  prometheus.Histogram
	handlersInFlight prometheus.Gauge

	// Delivery metrics
	subPlanSendsTotal  *prometheus.CounterVec
	subPlanDuration    prometheus.Histogram
	executionsFinished *prometheus.CounterVec

	// Connection pool metrics
	connections     prometheus.Gauge
	localDeliveries prometheus.Counter
	broadcastsTotal prometheus.Counter
	sendsDropped    prometheus.Counter

	// Leader election metrics
	leaderStatus       prometheus.Gauge
	leaderAcquisitions prometheus.Counter
	leaderLosses       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink. Metrics that fail
// to register keep working locally; only the registration is lost.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initConsumerMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initPoolMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.dispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_scheduler_executions_dispatched_total",
		Help: "Total number of plan executions dispatched.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsub_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsub_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.lockContendedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_scheduler_plan_lock_contended_total",
		Help: "Total number of plan evaluations skipped because the plan lock was held elsewhere.",
	})

	s.register(reg, s.ticksTotal, "msgsub_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "msgsub_scheduler_tick_errors_total")
	s.register(reg, s.dispatchedTotal, "msgsub_scheduler_executions_dispatched_total")
	s.register(reg, s.tickDuration, "msgsub_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "msgsub_scheduler_tick_drift_seconds")
	s.register(reg, s.lockContendedTotal, "msgsub_scheduler_plan_lock_contended_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_dispatcher_published_total",
		Help: "Total number of messages published per topic and delivery mode.",
	}, []string{"topic", "mode"})
	s.publishErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_dispatcher_publish_errors_total",
		Help: "Total number of publish failures per topic.",
	}, []string{"topic"})
	s.delayPublished = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsub_dispatcher_delay_seconds",
		Help:    "Requested delay of delayed publishes in seconds.",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})

	s.register(reg, s.publishedTotal, "msgsub_dispatcher_published_total")
	s.register(reg, s.publishErrorsTotal, "msgsub_dispatcher_publish_errors_total")
	s.register(reg, s.delayPublished, "msgsub_dispatcher_delay_seconds")
}

func (s *PrometheusSink) initConsumerMetrics(reg prometheus.Registerer) {
	s.receivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_consumer_received_total",
		Help: "Total number of deliveries received per topic.",
	}, []string{"topic"})
	s.handlerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_consumer_handler_outcomes_total",
		Help: "Total number of handler outcomes per topic.",
	}, []string{"topic", "outcome"})
	s.handlerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsub_consumer_handler_duration_seconds",
		Help:    "Handler invocation latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.handlersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msgsub_consumer_handlers_in_flight",
		Help: "Number of handler invocations currently in flight.",
	})

	s.register(reg, s.receivedTotal, "msgsub_consumer_received_total")
	s.register(reg, s.handlerOutcomes, "msgsub_consumer_handler_outcomes_total")
	s.register(reg, s.handlerDuration, "msgsub_consumer_handler_duration_seconds")
	s.register(reg, s.handlersInFlight, "msgsub_consumer_handlers_in_flight")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.subPlanSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_delivery_subplan_sends_total",
		Help: "Total number of sub-plan send attempts per provider kind and result.",
	}, []string{"kind", "result"})
	s.subPlanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsub_delivery_subplan_duration_seconds",
		Help:    "Sub-plan send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.executionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_delivery_executions_finished_total",
		Help: "Total number of executions moved to a terminal status.",
	}, []string{"status"})

	s.register(reg, s.subPlanSendsTotal, "msgsub_delivery_subplan_sends_total")
	s.register(reg, s.subPlanDuration, "msgsub_delivery_subplan_duration_seconds")
	s.register(reg, s.executionsFinished, "msgsub_delivery_executions_finished_total")
}

func (s *PrometheusSink) initPoolMetrics(reg prometheus.Registerer) {
	s.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msgsub_wspool_connections",
		Help: "Number of websocket connections held by this process.",
	})
	s.localDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_wspool_local_deliveries_total",
		Help: "Total number of payloads written to locally held connections.",
	})
	s.broadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_wspool_broadcasts_total",
		Help: "Total number of cross-process broadcast publishes.",
	})
	s.sendsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_wspool_sends_dropped_total",
		Help: "Total number of sends dropped on full or dying connections.",
	})

	s.register(reg, s.connections, "msgsub_wspool_connections")
	s.register(reg, s.localDeliveries, "msgsub_wspool_local_deliveries_total")
	s.register(reg, s.broadcastsTotal, "msgsub_wspool_broadcasts_total")
	s.register(reg, s.sendsDropped, "msgsub_wspool_sends_dropped_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msgsub_leader_status",
		Help: "1 when this process holds the reconciler leader lock.",
	})
	s.leaderAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsub_leader_acquisitions_total",
		Help: "Total number of leader lock acquisitions.",
	})
	s.leaderLosses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsub_leader_losses_total",
		Help: "Total number of leadership losses by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "msgsub_leader_status")
	s.register(reg, s.leaderAcquisitions, "msgsub_leader_acquisitions_total")
	s.register(reg, s.leaderLosses, "msgsub_leader_losses_total")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, executionsDispatched int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.dispatchedTotal.Add(float64(executionsDispatched))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) PlanLockContended() {
	s.lockContendedTotal.Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) MessagePublished(topicName string, mode string) {
	s.publishedTotal.WithLabelValues(topicName, mode).Inc()
}

func (s *PrometheusSink) PublishError(topicName string) {
	s.publishErrorsTotal.WithLabelValues(topicName).Inc()
}

func (s *PrometheusSink) DelayPublished(topicName string, delay time.Duration) {
	s.delayPublished.Observe(delay.Seconds())
}

// Consumer metrics implementation

func (s *PrometheusSink) MessageReceived(topicName string) {
	s.receivedTotal.WithLabelValues(topicName).Inc()
}

func (s *PrometheusSink) HandlerCompleted(topicName string, outcome string, duration time.Duration) {
	s.handlerOutcomes.WithLabelValues(topicName, outcome).Inc()
	s.handlerDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) HandlersInFlightIncr() {
	s.handlersInFlight.Inc()
}

func (s *PrometheusSink) HandlersInFlightDecr() {
	s.handlersInFlight.Dec()
}

// Delivery metrics implementation

func (s *PrometheusSink) SubPlanSendCompleted(kind string, ok bool, duration time.Duration) {
	result := "failed"
	if ok {
		result = "ok"
	}
	s.subPlanSendsTotal.WithLabelValues(kind, result).Inc()
	s.subPlanDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionFinished(status string) {
	s.executionsFinished.WithLabelValues(status).Inc()
}

// Connection pool metrics implementation

func (s *PrometheusSink) ConnectionsUpdate(count int) {
	s.connections.Set(float64(count))
}

func (s *PrometheusSink) LocalDeliveries(count int) {
	s.localDeliveries.Add(float64(count))
}

func (s *PrometheusSink) BroadcastPublished() {
	s.broadcastsTotal.Inc()
}

func (s *PrometheusSink) SendDropped() {
	s.sendsDropped.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitions.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLosses.WithLabelValues(reason).Inc()
}
