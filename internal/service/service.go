// Package service coordinates runs: it creates them, hands them to the runner,
// persists what the runner produces and answers queries about runs and findings.
package service

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/session"
	"github.com/xiaot623/gogo/uxrunner/internal/findings"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
	"github.com/xiaot623/gogo/uxrunner/internal/runner"
)

var (
	// ErrInvalidRequest wraps launch validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when resuming or stopping a run that already ended.
	ErrRunFinished = errors.New("run already finished")
)

// Publisher fans feed messages out to live subscribers of a run.
type Publisher interface {
	Publish(runID string, v interface{}) error
}

type Service struct {
	store     repository.Store
	backend   session.Backend
	driver    *runner.Driver
	publisher Publisher
	clusterer *findings.Clusterer
	logger    *zap.Logger

	runTimeout time.Duration

	mu    sync.Mutex
	execs map[string]*execution // keyed by execution id
	wg    sync.WaitGroup
}

type execution struct {
	tok     runner.Token
	started time.Time
	cancel  func()
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the live feed publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClusterer sets the clusterer used for cross-run aggregation.
func WithClusterer(c *findings.Clusterer) Option {
	return func(s *Service) {
		if c != nil {
			s.clusterer = c
		}
	}
}

// WithRunTimeout stops executions that run longer than d. Zero disables the limit.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.runTimeout = d }
}

// New creates the service and the driver it feeds. deps.Sink is replaced by the
// service itself.
func New(store repository.Store, deps runner.Deps, cfg runner.Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		backend:   deps.Backend,
		clusterer: findings.NewClusterer(),
		logger:    zap.NewNop(),
		execs:     make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(s)
	}
	if deps.Logger == nil {
		deps.Logger = s.logger
	}
	if deps.Clusterer == nil {
		deps.Clusterer = s.clusterer
	}
	deps.Sink = s
	s.driver = runner.NewDriver(deps, cfg)
	return s
}

// Driver returns the underlying decision loop driver.
func (s *Service) Driver() *runner.Driver { return s.driver }
