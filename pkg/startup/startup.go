package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is an external resource the command needs before it can run.
type Dependency interface {
	GetName() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of closures into a Dependency. Either may be nil.
type Func struct {
	Name    string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) GetName() string { return f.Name }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

type Startup struct {
	dependencies []Dependency
	started      map[string]bool
	logger       ectologger.Logger
	maxAttempts  int
	// unit is the base of the fibonacci backoff
	unit time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:      logger,
		started:     make(map[string]bool),
		maxAttempts: maxAttempts,
		unit:        time.Second,
	}
}

func (s *Startup) WithBackoffUnit(unit time.Duration) *Startup {
	s.unit = unit
	return s
}

// AddDependency registers a dependency. Dependencies start in registration order.
func (s *Startup) AddDependency(dependency Dependency) {
	s.dependencies = append(s.dependencies, dependency)
}

// Start starts every dependency, retrying the whole set with fibonacci backoff.
// Dependencies that already started are not started again on retry.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Debugf("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, dependency := range s.dependencies {
			if s.started[dependency.GetName()] {
				continue
			}
			if err := dependency.Start(ctx); err != nil {
				s.logger.WithError(err).Warnf("Startup dependency '%s' attempt %d failed", dependency.GetName(), attempt)
				lastErr = err
				break
			}
			s.started[dependency.GetName()] = true
			s.logger.WithField("dependency", dependency.GetName()).Debugf("Dependency '%s' started", dependency.GetName())
		}

		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.unit
		s.logger.Infof("Retrying in %v (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// Stop stops started dependencies in reverse order. It attempts every dependency and returns the first error.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.dependencies) - 1; i >= 0; i-- {
		dependency := s.dependencies[i]
		if !s.started[dependency.GetName()] {
			continue
		}
		if err := dependency.Stop(ctx); err != nil {
			s.logger.WithError(err).Errorf("Failed to stop dependency '%s'", dependency.GetName())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.started[dependency.GetName()] = false
	}
	return firstErr
}
