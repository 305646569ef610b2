package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

// State is the discovery service's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
)

// Bus is the announcement transport. Broadcasting a request triggers
// zero or more announcements from wallets listening on the bus.
type Bus interface {
	// SubscribeAnnouncements registers a handler for announcements of
	// one chain family and returns an unsubscribe func.
	SubscribeAnnouncements(ctx context.Context, chain wallet.ChainType, h func(Announcement)) (func(), error)

	// RequestAnnouncements broadcasts the request event.
	RequestAnnouncements(ctx context.Context, chain wallet.ChainType) error
}

// InjectedProbe checks the well-known injection point of a chain family
// directly. ok is false when nothing usable is present.
type InjectedProbe func(ctx context.Context) (w DiscoveredWallet, ok bool)

// Config holds discovery settings for one chain family.
type Config struct {
	// Enabled gates the whole service. Disabled discovery returns an
	// empty result immediately, registering nothing.
	Enabled bool `yaml:"enabled"`

	// Window bounds announcement collection.
	Window time.Duration `yaml:"window"`

	// PreferAnnouncements runs announcement discovery first and probes
	// the injection point only when zero wallets announced. When false
	// the injection point is probed directly without waiting.
	PreferAnnouncements bool `yaml:"prefer_announcements"`
}

func (c Config) withDefaults() Config {
	if c.Window == 0 {
		c.Window = 300 * time.Millisecond
	}
	return c
}

// Service discovers wallets for one chain family.
// State machine: Idle -> Discovering -> {Completed | TimedOut} -> Idle.
type Service struct {
	cfg    Config
	chain  wallet.ChainType
	bus    Bus
	probe  InjectedProbe
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	lastOutcome State
}

// NewService creates a discovery service. bus and probe may each be nil
// when the corresponding discovery method is unavailable in this
// environment.
func NewService(cfg Config, chain wallet.ChainType, bus Bus, probe InjectedProbe, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		chain:  chain,
		bus:    bus,
		probe:  probe,
		logger: logger.With("component", "discovery", "chain", string(chain)),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOutcome returns how the most recent round ended: Completed when
// any wallet was found, TimedOut when the window elapsed empty.
func (s *Service) LastOutcome() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Discover runs one discovery round. Disabled configuration or an
// environment with neither bus nor probe returns an empty result
// immediately. The round never fails: malformed announcements are
// dropped, and an elapsed window is a normal outcome.
func (s *Service) Discover(ctx context.Context) (*Results, error) {
	if !s.cfg.Enabled {
		return &Results{}, nil
	}
	if s.bus == nil && s.probe == nil {
		return &Results{}, nil
	}

	start := time.Now()
	s.setState(StateDiscovering)

	results := &Results{}

	runProbe := func() {
		if s.probe == nil {
			return
		}
		if w, ok := s.probe(ctx); ok {
			results.Injected = &w
		}
	}

	if s.cfg.PreferAnnouncements && s.bus != nil {
		results.Announced = s.collectAnnouncements(ctx)
		if len(results.Announced) == 0 {
			runProbe()
		}
	} else {
		runProbe()
	}

	results.Duration = time.Since(start)

	outcome := StateCompleted
	if len(results.Announced) == 0 && results.Injected == nil {
		outcome = StateTimedOut
	}
	s.mu.Lock()
	s.lastOutcome = outcome
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Debug("discovery round finished",
		"announced", len(results.Announced),
		"injected", results.Injected != nil,
		"duration", results.Duration,
	)
	return results, nil
}

// collectAnnouncements listens for the configured window, deduplicating
// by stable identifier in first-seen order. The listener is always
// unregistered when the window elapses.
func (s *Service) collectAnnouncements(ctx context.Context) []DiscoveredWallet {
	var (
		mu    sync.Mutex
		seen  = make(map[string]struct{})
		found []DiscoveredWallet
	)

	unsubscribe, err := s.bus.SubscribeAnnouncements(ctx, s.chain, func(a Announcement) {
		if err := a.validate(); err != nil {
			s.logger.Warn("discarding malformed announcement", "id", a.ID, "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[a.ID]; dup {
			return
		}
		seen[a.ID] = struct{}{}
		found = append(found, s.announcedWallet(a))
	})
	if err != nil {
		s.logger.Warn("announcement subscription failed", "error", err)
		return nil
	}
	defer unsubscribe()

	if err := s.bus.RequestAnnouncements(ctx, s.chain); err != nil {
		s.logger.Warn("announcement request broadcast failed", "error", err)
		return nil
	}

	timer := time.NewTimer(s.cfg.Window)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return found
}

func (s *Service) announcedWallet(a Announcement) DiscoveredWallet {
	return DiscoveredWallet{
		ID:       a.ID,
		Name:     a.Name,
		Icon:     a.Icon,
		Method:   MethodAnnouncement,
		Endpoint: a.Endpoint,
		Metadata: wallet.Metadata{
			Name: a.Name,
			Icon: a.Icon,
			Chains: []wallet.ChainSupport{
				{Type: s.chain, Wildcard: true},
			},
		},
	}
}
