package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"wsnotifier/internal/envelope"
	"wsnotifier/internal/eventbus"
	"wsnotifier/internal/metrics"
	rtsup "wsnotifier/internal/runtime/supervisor"
	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	dir     Directory
	locales LocaleResolver
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	sweeper  *cron.Cron
	stopDone chan struct{} // non-nil while stopping
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, sender Sender, dir Directory, locales LocaleResolver, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:  sender,
		dir:     dir,
		locales: locales,
		log:     log,
		bus:     eventbus.Nop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate and retry settings in place. Worker and queue sizes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldSweep := s.cfg.SweepSchedule
	s.applyLocked(cfg)
	restartSweep := s.sweeper != nil && oldSweep != s.cfg.SweepSchedule
	s.mu.Unlock()

	if restartSweep {
		s.restartSweeper()
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	s.cfg = cfg
	// burst = rate so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers and the sweeper. It is idempotent and a no-op
// while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "broadcast"))),
		// delivery is best-effort and must not take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := range workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("broadcast worker exited unexpectedly")
		})
	}
	s.restartSweeper()
	s.log.Info("broadcast started", logx.Int("workers", workers))
}

// Stop stops intake and drains the queue best-effort until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	sw := s.sweeper
	s.sweeper = nil
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	if sw != nil {
		<-sw.Stop().Done()
	}

	go func() {
		defer close(done)
		// in-flight enqueues finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Broadcast fans env out to every channel on platform tracking key whose
// language resolves to env.Locale. No subscribers is not an error. A full
// queue drops the remaining chats and reports ErrQueueFull.
func (s *Service) Broadcast(ctx context.Context, env envelope.Envelope, platform worldstate.Platform, key string, tags []string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Debug("broadcast disabled; envelope discarded", logx.String("key", key), logx.String("locale", env.Locale))
		return nil
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	subs, err := s.dir.Subscribers(ctx, platform.String(), key, tags)
	if err != nil {
		return fmt.Errorf("subscribers for %s: %w", key, err)
	}
	if len(subs) == 0 {
		return nil
	}

	text, preview := Render(env)
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}

	dropped := 0
	for _, ch := range subs {
		if s.locales != nil && s.locales.Resolve(ch.Language) != env.Locale {
			continue
		}
		j := job{
			target:    transport.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID},
			text:      text,
			preview:   preview,
			platform:  platform.String(),
			key:       key,
			locale:    env.Locale,
			group:     env.Group,
			expiresAt: expires,
		}
		select {
		case q <- j:
		default:
			dropped++
			s.publish(eventbus.BroadcastFailed, j, 0, ErrQueueFull)
		}
	}
	s.metrics.SetQueueDepth(len(q))
	if dropped > 0 {
		s.metrics.IncDelivery("dropped")
		return fmt.Errorf("%w: %d chats dropped for %s", ErrQueueFull, dropped, key)
	}
	return nil
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.metrics.SetQueueDepth(len(q))
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	ref, err := s.sendWithRetry(ctx, j)
	if err != nil {
		s.metrics.IncDelivery("failed")
		s.publish(eventbus.BroadcastFailed, j, 0, err)
		s.log.Warn("broadcast send failed",
			logx.String("key", j.key),
			logx.Int64("chat_id", j.target.ChatID),
			logx.Int("thread_id", j.target.ThreadID),
			logx.Err(err),
		)
		return
	}
	s.metrics.IncDelivery("sent")
	s.publish(eventbus.BroadcastSent, j, ref.MessageID, nil)

	displaced, err := s.dir.ReplaceLive(ctx, storage.LiveMessage{
		Platform:  j.platform,
		Key:       j.key,
		ChatID:    ref.ChatID,
		ThreadID:  ref.ThreadID,
		MessageID: ref.MessageID,
		Group:     j.group,
		ExpiresAt: j.expiresAt,
	})
	if err != nil {
		s.log.Warn("record live message failed", logx.String("key", j.key), logx.Err(err))
		return
	}
	for _, old := range displaced {
		s.retire(ctx, old)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) (transport.MessageRef, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	opt := &transport.SendOptions{ParseMode: parseModeHTML, DisablePreview: !j.preview}
	attempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return transport.MessageRef{}, err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := s.sender.SendText(callCtx, j.target, j.text, opt)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		s.log.Debug("broadcast send retry", logx.String("key", j.key), logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return transport.MessageRef{}, ctx.Err()
		}
	}
	return transport.MessageRef{}, lastErr
}

// retire deletes a live message from the chat and forgets it. It reports
// whether the record was removed.
func (s *Service) retire(ctx context.Context, m storage.LiveMessage) bool {
	s.mu.Lock()
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	ref := transport.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.MessageID}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	err := s.sender.DeleteMessage(callCtx, ref)
	cancel()
	if err != nil {
		s.log.Debug("delete message failed", logx.String("key", m.Key), logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
	if err := s.dir.DeleteLive(ctx, m.ChatID, m.ThreadID, m.MessageID); err != nil {
		s.log.Warn("forget live message failed", logx.String("key", m.Key), logx.Err(err))
		return false
	}
	s.metrics.IncDelivery("retired")
	s.bus.Publish(eventbus.Event{
		Type:     eventbus.BroadcastRetired,
		Time:     s.now(),
		Platform: m.Platform,
		Key:      m.Key,
		Data:     DeliveryEvent{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.MessageID, At: s.now()},
	})
	return true
}

func (s *Service) publish(typ string, j job, messageID int, err error) {
	ev := DeliveryEvent{ChatID: j.target.ChatID, ThreadID: j.target.ThreadID, MessageID: messageID, Locale: j.locale, At: s.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Platform: j.platform, Key: j.key, Data: ev})
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
