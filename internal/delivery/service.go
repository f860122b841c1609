package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/correlate"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/timing"
)

var (
	ErrInvalidItem       = errors.New("delivery: invalid item")
	ErrAttemptsExhausted = errors.New("delivery: attempt ceiling reached")
)

// Sender transmits one attempt and blocks until the destination ack
// arrives or the route-priced deadline elapses. The connector implements
// it; route and timeout are resolved fresh inside each call so a path
// override changed between attempts takes effect.
type Sender interface {
	SendText(ctx context.Context, to frame.PublicKey, text string, attempt int) error
	SendChannelText(ctx context.Context, channel uint8, text string) error
}

// Config holds the delivery service policy.
type Config struct {
	MaxAttempts int
	Backoff     timing.BackoffConfig
}

// DefaultConfig returns the observed policy defaults: three attempts with
// exponential inter-attempt backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     timing.DefaultBackoff(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Result reports the terminal outcome of one delivery.
type Result struct {
	Item Item
	Err  error
}

// Service drives queued items to Acked or Failed.
type Service struct {
	queue  Queue
	sender Sender
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	seq     uint64
	results chan Result
	wg      sync.WaitGroup
}

func NewService(queue Queue, sender Sender, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		queue:   queue,
		sender:  sender,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "delivery").Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		results: make(chan Result, 16),
	}
}

// Results streams terminal outcomes of asynchronous deliveries.
func (s *Service) Results() <-chan Result { return s.results }

// Enqueue persists a new item and starts delivering it in the background.
// The terminal outcome arrives on Results.
func (s *Service) Enqueue(ctx context.Context, item Item) (Item, error) {
	item = s.normalize(item)
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	if err := s.queue.Put(item); err != nil {
		return Item{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		final, err := s.Deliver(ctx, item)
		select {
		case s.results <- Result{Item: final, Err: err}:
		default:
			s.log.Warn().Str("id", final.ID).Msg("result channel full, outcome dropped")
		}
	}()
	return item, nil
}

// Restore requeues every non-terminal item from the persisted queue with
// its attempt count preserved, so the ceiling holds across restarts.
// It returns the items it resumed.
func (s *Service) Restore(ctx context.Context) ([]Item, error) {
	items, err := s.queue.List()
	if err != nil {
		return nil, err
	}
	resumed := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Status.Terminal() {
			continue
		}
		resumed = append(resumed, item)
		s.wg.Add(1)
		go func(it Item) {
			defer s.wg.Done()
			final, err := s.Deliver(ctx, it)
			select {
			case s.results <- Result{Item: final, Err: err}:
			default:
				s.log.Warn().Str("id", final.ID).Msg("result channel full, outcome dropped")
			}
		}(item)
	}
	if len(resumed) > 0 {
		s.log.Info().Int("count", len(resumed)).Msg("resumed persisted deliveries")
	}
	return resumed, nil
}

// Wait blocks until all in-flight deliveries have reached an outcome.
func (s *Service) Wait() { s.wg.Wait() }

// Deliver runs one item to a terminal state synchronously. Attempts
// carried in from a restart count against the ceiling. A lost connection
// or a canceled ctx leaves the item pending for a later Restore.
func (s *Service) Deliver(ctx context.Context, item Item) (Item, error) {
	if err := item.Validate(); err != nil {
		return item, err
	}
	for item.Attempts < s.cfg.MaxAttempts {
		item.Attempts++
		item.Status = StatusSent
		item.LastAttemptAt = time.Now()
		// Persist the attempt before transmitting so a crash mid-flight
		// still counts it against the ceiling after restart.
		if err := s.queue.Put(item); err != nil {
			return item, err
		}

		err := s.sendOnce(ctx, item)
		if err == nil {
			item.Status = StatusAcked
			item.LastError = ""
			if derr := s.queue.Delete(item.ID); derr != nil {
				s.log.Warn().Str("id", item.ID).Err(derr).Msg("acked item not removed from queue")
			}
			s.log.Debug().Str("id", item.ID).Int("attempts", item.Attempts).Msg("delivery acked")
			return item, nil
		}

		if errors.Is(err, correlate.ErrConnectionLost) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			item.Status = StatusPending
			item.LastError = err.Error()
			_ = s.queue.Put(item)
			return item, err
		}

		item.LastError = err.Error()
		s.log.Debug().Str("id", item.ID).Int("attempt", item.Attempts).Err(err).Msg("delivery attempt failed")
		if item.Attempts < s.cfg.MaxAttempts {
			if err := s.sleepBackoff(ctx, item.Attempts); err != nil {
				item.Status = StatusPending
				_ = s.queue.Put(item)
				return item, err
			}
		}
	}

	item.Status = StatusFailed
	if err := s.queue.Put(item); err != nil {
		s.log.Warn().Str("id", item.ID).Err(err).Msg("failed item not persisted")
	}
	s.log.Warn().Str("id", item.ID).Int("attempts", item.Attempts).Msg("delivery failed, ceiling reached")
	return item, fmt.Errorf("%w: %d attempts", ErrAttemptsExhausted, item.Attempts)
}

func (s *Service) sendOnce(ctx context.Context, item Item) error {
	switch item.Kind {
	case TargetChannel:
		return s.sender.SendChannelText(ctx, item.Channel, item.Text)
	default:
		return s.sender.SendText(ctx, item.To, item.Text, item.Attempts)
	}
}

func (s *Service) sleepBackoff(ctx context.Context, attempt int) error {
	s.mu.Lock()
	delay := timing.NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
	s.mu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) normalize(item Item) Item {
	if item.ID == "" {
		s.mu.Lock()
		s.seq++
		item.ID = fmt.Sprintf("msg.%d.%d", time.Now().UnixNano(), s.seq)
		s.mu.Unlock()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	return item
}
