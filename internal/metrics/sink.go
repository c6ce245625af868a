package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, executionsDispatched int, err error)
	TickDrift(drift time.Duration)
	PlanLockContended()

	// Dispatcher metrics
	MessagePublished(topicName string, mode string)
	PublishError(topicName string)
	DelayPublished(topicName string, delay time.Duration)

	// Consumer metrics
	MessageReceived(topicName string)
	HandlerCompleted(topicName string, outcome string, duration time.Duration)
	HandlersInFlightIncr()
	HandlersInFlightDecr()

	// Delivery metrics
	SubPlanSendCompleted(kind string, ok bool, duration time.Duration)
	ExecutionFinished(status string)

	// Connection pool metrics
	ConnectionsUpdate(count int)
	LocalDeliveries(count int)
	BroadcastPublished()
	SendDropped()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
