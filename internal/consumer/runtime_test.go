package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/lingfromSh/message-sub000/internal/topic"
)

type fakeIdem struct {
	seen     map[string]bool
	setErr   error
	cleared  []string
	sequence []string
	clearCtx context.Context
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{seen: make(map[string]bool)}
}

func (f *fakeIdem) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeIdem) Clear(ctx context.Context, key string) error {
	// Honor context expiry the way go-redis does.
	if err := ctx.Err(); err != nil {
		return err
	}
	f.clearCtx = ctx
	delete(f.seen, key)
	f.cleared = append(f.cleared, key)
	f.sequence = append(f.sequence, "clear")
	return nil
}

type fakeAcker struct {
	redelivered bool
	acked       bool
	nacked      bool
	requeued    bool
	sequence    *[]string
}

func (f *fakeAcker) Ack(multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcker) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	if f.sequence != nil {
		*f.sequence = append(*f.sequence, "nack")
	}
	return nil
}

func (f *fakeAcker) WasRedelivered() bool { return f.redelivered }

type fakeConsumeBroker struct{}

func (fakeConsumeBroker) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, fmt.Errorf("not implemented")
}

func (fakeConsumeBroker) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

type fakeSubscriber struct{}

func (fakeSubscriber) Subscribe(ctx context.Context, channels ...string) *redis.PubSub { return nil }

func testRuntime(t *testing.T, idem IdempotencyStore) *Runtime {
	t.Helper()
	reg := topic.NewRegistry()
	if err := reg.Register(topic.Descriptor{Topic: "plan.deliver", Mode: topic.ModeShared}); err != nil {
		t.Fatal(err)
	}
	return New(Config{}, reg, fakeConsumeBroker{}, fakeSubscriber{}, idem)
}

func TestSettle_NilAcks(t *testing.T) {
	r := testRuntime(t, newFakeIdem())
	msg := &fakeAcker{}

	outcome := r.settle("plan.deliver", "m1", nil, msg)

	if outcome != OutcomeAcked {
		t.Errorf("outcome = %q, want acked", outcome)
	}
	if !msg.acked || msg.nacked {
		t.Errorf("expected ack only, got ack=%t nack=%t", msg.acked, msg.nacked)
	}
}

func TestSettle_RejectNacksWithoutRequeue(t *testing.T) {
	idem := newFakeIdem()
	r := testRuntime(t, idem)
	msg := &fakeAcker{}

	err := fmt.Errorf("%w: malformed body", ErrReject)
	outcome := r.settle("plan.deliver", "m1", err, msg)

	if outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want rejected", outcome)
	}
	if !msg.nacked || msg.requeued {
		t.Errorf("expected nack without requeue, got nack=%t requeue=%t", msg.nacked, msg.requeued)
	}
	if len(idem.cleared) != 0 {
		t.Errorf("reject must not clear the dedupe key, cleared %v", idem.cleared)
	}
}

func TestSettle_UnexpectedErrorClearsDedupeThenRequeues(t *testing.T) {
	idem := newFakeIdem()
	r := testRuntime(t, idem)

	// Mark the message seen first, as processShared would have.
	if _, err := idem.SetNX(context.Background(), dedupeKey("plan.deliver", "m1"), time.Hour); err != nil {
		t.Fatal(err)
	}

	msg := &fakeAcker{sequence: &idem.sequence}

	outcome := r.settle("plan.deliver", "m1", errors.New("db down"), msg)

	if outcome != OutcomeRequeued {
		t.Errorf("outcome = %q, want requeued", outcome)
	}
	if !msg.nacked || !msg.requeued {
		t.Errorf("expected nack with requeue, got nack=%t requeue=%t", msg.nacked, msg.requeued)
	}
	if len(idem.cleared) != 1 || idem.cleared[0] != "msg:plan.deliver:m1" {
		t.Fatalf("dedupe key not cleared: %v", idem.cleared)
	}
	// The key must be cleared before the nack, or the redelivered attempt
	// would see itself as a duplicate.
	if len(idem.sequence) != 2 || idem.sequence[0] != "clear" || idem.sequence[1] != "nack" {
		t.Errorf("expected clear before nack, got %v", idem.sequence)
	}
}

func TestSettle_ClearsDedupeAfterHandlerDeadlineExpired(t *testing.T) {
	idem := newFakeIdem()
	r := testRuntime(t, idem)

	// The common transient failure is the handler running out its deadline.
	// Let that deadline lapse before settling; the dedupe clear must still
	// go through so the redelivered attempt is treated as fresh.
	hctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-hctx.Done()

	if _, err := idem.SetNX(context.Background(), dedupeKey("plan.deliver", "m1"), time.Hour); err != nil {
		t.Fatal(err)
	}

	msg := &fakeAcker{}
	outcome := r.settle("plan.deliver", "m1", hctx.Err(), msg)

	if outcome != OutcomeRequeued {
		t.Errorf("outcome = %q, want requeued", outcome)
	}
	if len(idem.cleared) != 1 || idem.cleared[0] != "msg:plan.deliver:m1" {
		t.Fatalf("dedupe key not cleared after handler deadline: %v", idem.cleared)
	}
	if deadline, ok := idem.clearCtx.Deadline(); !ok || !deadline.After(time.Now()) {
		t.Error("clear must run on its own live deadline, not the expired handler context")
	}
}

func TestSettle_RedeliveredUnexpectedErrorParks(t *testing.T) {
	idem := newFakeIdem()
	r := testRuntime(t, idem)
	msg := &fakeAcker{redelivered: true}

	outcome := r.settle("plan.deliver", "m1", errors.New("db down"), msg)

	if outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want rejected (parked)", outcome)
	}
	if !msg.nacked || msg.requeued {
		t.Errorf("expected park (nack no requeue), got nack=%t requeue=%t", msg.nacked, msg.requeued)
	}
	if len(idem.cleared) != 0 {
		t.Errorf("parking must not clear the dedupe key, cleared %v", idem.cleared)
	}
}

func TestMarkSeen(t *testing.T) {
	idem := newFakeIdem()
	r := testRuntime(t, idem)
	ctx := context.Background()

	if dup := r.markSeen(ctx, "plan.deliver", "m1"); dup {
		t.Error("first sight should not be a duplicate")
	}
	if dup := r.markSeen(ctx, "plan.deliver", "m1"); !dup {
		t.Error("second sight should be a duplicate")
	}
	if dup := r.markSeen(ctx, "plan.deliver", "m2"); dup {
		t.Error("a different message id is not a duplicate")
	}
}

func TestMarkSeen_StoreErrorTreatedAsFirstSight(t *testing.T) {
	idem := newFakeIdem()
	idem.setErr = errors.New("redis down")
	r := testRuntime(t, idem)

	if dup := r.markSeen(context.Background(), "plan.deliver", "m1"); dup {
		t.Error("store error must degrade to first-sight, not duplicate")
	}
}

func TestHandle_UnknownTopic(t *testing.T) {
	r := testRuntime(t, newFakeIdem())

	err := r.Handle("nope", func(ctx context.Context, d Delivery) error { return nil })
	if !errors.Is(err, topic.ErrUnknownTopic) {
		t.Errorf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestHandle_Duplicate(t *testing.T) {
	r := testRuntime(t, newFakeIdem())
	h := func(ctx context.Context, d Delivery) error { return nil }

	if err := r.Handle("plan.deliver", h); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := r.Handle("plan.deliver", h); !errors.Is(err, ErrHandlerExists) {
		t.Errorf("expected ErrHandlerExists, got %v", err)
	}
}

func TestRun_NoHandlers(t *testing.T) {
	r := testRuntime(t, newFakeIdem())

	if err := r.Run(context.Background()); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}
