package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, dispatched int, err error)    {}
func (n *NoopSink) TickDrift(drift time.Duration)                                      {}
func (n *NoopSink) PlanLockContended()                                                 {}
func (n *NoopSink) MessagePublished(topicName string, mode string)                     {}
func (n *NoopSink) PublishError(topicName string)                                      {}
func (n *NoopSink) DelayPublished(topicName string, delay time.Duration)               {}
func (n *NoopSink) MessageReceived(topicName string)                                   {}
func (n *NoopSink) HandlerCompleted(topicName, outcome string, d time.Duration)        {}
func (n *NoopSink) HandlersInFlightIncr()                                              {}
func (n *NoopSink) HandlersInFlightDecr()                                              {}
func (n *NoopSink) SubPlanSendCompleted(kind string, ok bool, duration time.Duration)  {}
func (n *NoopSink) ExecutionFinished(status string)                                    {}
func (n *NoopSink) ConnectionsUpdate(count int)                                        {}
func (n *NoopSink) LocalDeliveries(count int)                                          {}
func (n *NoopSink) BroadcastPublished()                                                {}
func (n *NoopSink) SendDropped()                                                       {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderAcquired()                                                    {}
func (n *NoopSink) LeaderLost(reason string)                                           {}
