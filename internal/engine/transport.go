package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
)

// ErrUnavailable means no transport could carry the change right now.  It
// is the signal for the caller to route the change to the offline queue;
// it is never shown to the user as a failure.
var ErrUnavailable = errors.New("transport unavailable")

// State is the transport selector's connection state.
type State int

const (
	// Connecting means the real-time channel dial is in progress.
	Connecting State = iota
	// Connected means the real-time channel is up and preferred.
	Connected
	// Disconnected means the channel dropped and a retry is pending.
	Disconnected
	// FallbackOnly means real-time transport is disabled by configuration;
	// the selector starts and stays here.
	FallbackOnly
)

// API is the request/response side of the transport: roster fetch, batch
// submit and the clock query.  It doubles as the fallback write path.
type API interface {
	FetchRoster(ctx context.Context, occ model.OccurrenceKey) (model.SnapshotEntry, error)
	SubmitChanges(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error)
	ServerTime(ctx context.Context) (int64, error)
}

// Channel is the persistent real-time transport.  Connect establishes the
// session; Pushes delivers inbound authoritative updates until Done yields
// the terminal error for the session.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error)
	Pushes() <-chan model.Push
	Done() <-chan error
	Close() error
}

// SelectorConfig tunes the transport selector.
type SelectorConfig struct {
	// RealtimeEnabled selects the channel-first policy; when false the
	// selector stays in FallbackOnly and never dials.
	RealtimeEnabled bool
	// AllowFallback permits request/response writes when the channel is
	// down or a channel send failed.
	AllowFallback bool
	// RetryInterval is the initial reconnect delay; it doubles up to
	// MaxRetryInterval after consecutive failures.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

// Selector chooses between the real-time channel and the request/response
// fallback per configuration and live connection health.  It owns the
// process-wide ConnectionState and emits reconnect signals so the
// reconciler can resync the clock, replay the offline queue and refresh
// the active snapshot.
type Selector struct {
	mu    sync.Mutex
	state State

	channel Channel
	api     API
	cfg     SelectorConfig

	onPush      func(model.Push)
	onReconnect func(ctx context.Context)

	everConnected bool
}

// NewSelector builds a selector.  channel may be nil when realtime is
// disabled.
func NewSelector(channel Channel, api API, cfg SelectorConfig) *Selector {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = 30 * time.Second
	}
	state := Connecting
	if !cfg.RealtimeEnabled || channel == nil {
		state = FallbackOnly
	}
	return &Selector{state: state, channel: channel, api: api, cfg: cfg}
}

// OnPush registers the handler for inbound authoritative pushes.  Must be
// called before Run.
func (s *Selector) OnPush(fn func(model.Push)) { s.onPush = fn }

// OnReconnect registers the handler invoked on every transition into
// Connected after a disconnect (and on the first connect, so session
// start and reconnect share one code path).  Must be called before Run.
func (s *Selector) OnReconnect(fn func(ctx context.Context)) { s.onReconnect = fn }

// API exposes the request/response side for reads (roster fetch, clock
// query), which always go over request/response regardless of state.
func (s *Selector) API() API { return s.api }

// Status returns the current process-wide connection state.
func (s *Selector) Status() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Selector) statusLocked() model.ConnectionState {
	switch {
	case s.state == Connected:
		return model.ConnectionState{ChannelConnected: true, Mode: model.ModeRealtime}
	case s.cfg.AllowFallback || s.state == FallbackOnly:
		return model.ConnectionState{Mode: model.ModeFallback}
	default:
		return model.ConnectionState{Mode: model.ModeOffline}
	}
}

// Run drives the Connecting -> Connected -> Disconnected -> Connecting
// loop until ctx is done.  In FallbackOnly it returns immediately; there
// is nothing to drive.
func (s *Selector) Run(ctx context.Context) {
	s.mu.Lock()
	if s.state == FallbackOnly {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	backoff := s.cfg.RetryInterval
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(Connecting)
		if err := s.channel.Connect(ctx); err != nil {
			log.Printf("transport: channel connect failed: %v; retrying in %s", err, backoff)
			s.setState(Disconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < s.cfg.MaxRetryInterval {
				backoff *= 2
			}
			continue
		}
		backoff = s.cfg.RetryInterval
		s.setState(Connected)
		log.Printf("transport: channel connected")
		if s.onReconnect != nil {
			s.onReconnect(ctx)
		}

		if err := s.pump(ctx); err != nil {
			log.Printf("transport: channel lost: %v", err)
		}
		s.setState(Disconnected)
		if ctx.Err() != nil {
			_ = s.channel.Close()
			return
		}
	}
}

// pump forwards pushes until the channel session ends.
func (s *Selector) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case push := <-s.channel.Pushes():
			if s.onPush != nil {
				s.onPush(push)
			}
		case err := <-s.channel.Done():
			return err
		}
	}
}

func (s *Selector) setState(st State) {
	s.mu.Lock()
	if st == Connected {
		s.everConnected = true
	}
	s.state = st
	s.mu.Unlock()
}

// Send submits a batch of changes for one occurrence.  While Connected it
// tries the channel first and, if permitted, retries once over
// request/response before surfacing an error.  While Disconnected or
// FallbackOnly it goes straight to request/response when permitted;
// otherwise it returns ErrUnavailable and the caller must queue the
// changes instead.
func (s *Selector) Send(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Connected {
		result, err := s.channel.Send(ctx, occ, changes)
		if err == nil {
			return result, nil
		}
		log.Printf("transport: channel send failed: %v", err)
		if !s.cfg.AllowFallback {
			return model.SubmitResult{}, err
		}
		return s.api.SubmitChanges(ctx, occ, changes)
	}

	if s.cfg.AllowFallback || state == FallbackOnly {
		return s.api.SubmitChanges(ctx, occ, changes)
	}
	return model.SubmitResult{}, ErrUnavailable
}
