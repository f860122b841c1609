package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/correlate"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/timing"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

// memQueue is an in-memory Queue that records every Put for inspection.
type memQueue struct {
	mu    sync.Mutex
	items map[string]Item
	puts  []Item
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[string]Item)}
}

func (q *memQueue) Put(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ID] = item
	q.puts = append(q.puts, item)
	return nil
}

func (q *memQueue) Delete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	return nil
}

func (q *memQueue) List() ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it)
	}
	return out, nil
}

func (q *memQueue) stored(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	return it, ok
}

// fakeSender scripts per-attempt outcomes and records the attempts seen.
type fakeSender struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
	attempts []int
	channels []uint8
}

func (s *fakeSender) SendText(ctx context.Context, to frame.PublicKey, text string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	err := error(nil)
	if s.calls < len(s.outcomes) {
		err = s.outcomes[s.calls]
	}
	s.calls++
	return err
}

func (s *fakeSender) SendChannelText(ctx context.Context, channel uint8, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
	s.calls++
	return nil
}

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff: timing.BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   2,
			MaxDelay:     2 * time.Millisecond,
		},
	}
}

func contactItem(id string) Item {
	return Item{
		ID:       id,
		Kind:     TargetContact,
		To:       frame.PublicKey{0x01},
		Text:     "hello",
		Status:   StatusPending,
		QueuedAt: time.Now(),
	}
}

func TestDeliverAcksFirstAttempt(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	final, err := svc.Deliver(context.Background(), contactItem("m1"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if final.Status != StatusAcked || final.Attempts != 1 {
		t.Fatalf("wrong terminal state: %+v", final)
	}
	if _, ok := q.stored("m1"); ok {
		t.Fatalf("acked item should be removed from the queue")
	}
}

func TestDeliverRetriesToCeilingThenFails(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{outcomes: []error{
		correlate.ErrTimeout,
		correlate.ErrTimeout,
		correlate.ErrTimeout,
	}}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	final, err := svc.Deliver(context.Background(), contactItem("m2"))
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if final.Status != StatusFailed || final.Attempts != 3 {
		t.Fatalf("wrong terminal state: %+v", final)
	}
	if sender.calls != 3 {
		t.Fatalf("sender called %d times, want exactly 3", sender.calls)
	}
	// The attempt number handed to the sender counts upward.
	for i, a := range sender.attempts {
		if a != i+1 {
			t.Fatalf("attempt sequence %v", sender.attempts)
		}
	}
	// The failed item stays stored for reporting.
	if stored, ok := q.stored("m2"); !ok || stored.Status != StatusFailed {
		t.Fatalf("failed item not persisted: %+v", stored)
	}
}

func TestDeliverSucceedsAfterRetry(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{outcomes: []error{correlate.ErrTimeout, nil}}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	final, err := svc.Deliver(context.Background(), contactItem("m3"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if final.Status != StatusAcked || final.Attempts != 2 {
		t.Fatalf("wrong terminal state: %+v", final)
	}
}

func TestAttemptPersistedBeforeTransmit(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{outcomes: []error{correlate.ErrTimeout, correlate.ErrTimeout, correlate.ErrTimeout}}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	_, _ = svc.Deliver(context.Background(), contactItem("m4"))

	// Every attempt increment must hit the queue before the send, so the
	// Put log shows attempts 1..3 in order before the terminal write.
	q.mu.Lock()
	defer q.mu.Unlock()
	var seen []int
	for _, p := range q.puts {
		if p.Status == StatusSent {
			seen = append(seen, p.Attempts)
		}
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("persisted attempt sequence %v", seen)
	}
}

func TestConnectionLostLeavesItemPending(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{outcomes: []error{correlate.ErrConnectionLost}}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	final, err := svc.Deliver(context.Background(), contactItem("m5"))
	if !errors.Is(err, correlate.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if final.Status != StatusPending || final.Attempts != 1 {
		t.Fatalf("item should stay pending with the attempt recorded: %+v", final)
	}
	if sender.calls != 1 {
		t.Fatalf("no retry after a lost connection, got %d calls", sender.calls)
	}
	if stored, _ := q.stored("m5"); stored.Status != StatusPending {
		t.Fatalf("pending state not persisted: %+v", stored)
	}
}

func TestCeilingHoldsAcrossRestart(t *testing.T) {
	q := newMemQueue()

	// First run: two attempts, then the link drops.
	first := &fakeSender{outcomes: []error{correlate.ErrTimeout, correlate.ErrConnectionLost}}
	svc := NewService(q, first, fastConfig(), testlog.Logger(t))
	if _, err := svc.Deliver(context.Background(), contactItem("m6")); !errors.Is(err, correlate.ErrConnectionLost) {
		t.Fatalf("first run: %v", err)
	}

	// Second run restores from the same queue. Only one attempt remains.
	second := &fakeSender{outcomes: []error{correlate.ErrTimeout, correlate.ErrTimeout}}
	svc2 := NewService(q, second, fastConfig(), testlog.Logger(t))
	resumed, err := svc2.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(resumed) != 1 || resumed[0].Attempts != 2 {
		t.Fatalf("restore should carry the attempt count: %+v", resumed)
	}
	svc2.Wait()

	if second.calls != 1 {
		t.Fatalf("restart must not reset the ceiling: %d calls, want 1", second.calls)
	}
	if stored, _ := q.stored("m6"); stored.Status != StatusFailed || stored.Attempts != 3 {
		t.Fatalf("item should fail at the shared ceiling: %+v", stored)
	}
}

func TestRestoreSkipsTerminalItems(t *testing.T) {
	q := newMemQueue()
	failed := contactItem("m7")
	failed.Status = StatusFailed
	failed.Attempts = 3
	if err := q.Put(failed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sender := &fakeSender{}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))
	resumed, err := svc.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	svc.Wait()
	if len(resumed) != 0 || sender.calls != 0 {
		t.Fatalf("terminal items must not be retried: resumed=%d calls=%d", len(resumed), sender.calls)
	}
}

func TestEnqueueAssignsIDAndReportsResult(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	item, err := svc.Enqueue(context.Background(), Item{Kind: TargetContact, To: frame.PublicKey{0x01}, Text: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("enqueue should assign an ID")
	}

	select {
	case res := <-svc.Results():
		if res.Err != nil || res.Item.Status != StatusAcked {
			t.Fatalf("unexpected outcome: %+v %v", res.Item, res.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no result delivered")
	}
}

func TestEnqueueRejectsInvalidItem(t *testing.T) {
	svc := NewService(newMemQueue(), &fakeSender{}, fastConfig(), testlog.Logger(t))
	if _, err := svc.Enqueue(context.Background(), Item{Kind: TargetContact}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), Item{Kind: "broadcast", Text: "x"}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for bad kind, got %v", err)
	}
}

func TestChannelDeliveryUsesChannelSend(t *testing.T) {
	q := newMemQueue()
	sender := &fakeSender{}
	svc := NewService(q, sender, fastConfig(), testlog.Logger(t))

	item := Item{ID: "c1", Kind: TargetChannel, Channel: 2, Text: "all hands", Status: StatusPending, QueuedAt: time.Now()}
	final, err := svc.Deliver(context.Background(), item)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if final.Status != StatusAcked {
		t.Fatalf("wrong state: %+v", final)
	}
	if len(sender.channels) != 1 || sender.channels[0] != 2 {
		t.Fatalf("channel send not used: %v", sender.channels)
	}
}

func TestCanceledContextLeavesPending(t *testing.T) {
	q := newMemQueue()
	// First attempt times out so Deliver reaches the backoff sleep, where
	// the canceled ctx aborts the run.
	sender := &fakeSender{outcomes: []error{correlate.ErrTimeout}}
	svc := NewService(q, sender, Config{
		MaxAttempts: 3,
		Backoff: timing.BackoffConfig{
			InitialDelay: time.Minute,
			Multiplier:   2,
			MaxDelay:     time.Minute,
		},
	}, testlog.Logger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	final, err := svc.Deliver(ctx, contactItem("m8"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if final.Status != StatusPending {
		t.Fatalf("aborted delivery should stay pending: %+v", final)
	}
}
