package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrModelLoad wraps the cause of a failed artifact load.
	ErrModelLoad = errors.New("model load failed")
	// ErrModelUnavailable is returned by every Infer call after a failed load.
	ErrModelUnavailable = errors.New("model unavailable")
	ErrEngineClosed     = errors.New("engine closed")
)

// Session runs one forward pass of a loaded artifact.
// Run must be safe for concurrent use.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Loader opens an artifact. It is called at most once per Engine.
type Loader func() (Session, error)

// Engine is the process-wide handle on the classifier artifact.
// The load outcome, success or failure, is kept for the lifetime of the Engine.
type Engine struct {
	config ModelConfig
	loader Loader
	log    *zap.SugaredLogger

	once     sync.Once
	attempts atomic.Int32
	session  Session
	loadErr  error

	mu     sync.RWMutex
	closed bool
}

func NewEngine(config ModelConfig, loader Loader, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		config: config,
		loader: loader,
		log:    logger,
	}
}

// Load attempts to open the artifact. Only the first call does any work;
// later calls return the cached outcome.
func (e *Engine) Load() error {
	e.once.Do(func() {
		e.attempts.Inc()
		session, err := e.loader()
		if err != nil {
			e.loadErr = fmt.Errorf("%w: %w", ErrModelLoad, err)
			e.log.Warnw("Model failed to load, detections will report Unknown", "error", err)
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			e.loadErr = ErrEngineClosed
			if err := session.Close(); err != nil {
				e.log.Warnw("Closing session loaded after shutdown", "error", err)
			}
			return
		}
		e.session = session
		e.log.Infow("Model loaded", "labels", e.config.Labels)
	})
	return e.loadErr
}

// LoadAttempts is the number of times the loader has been invoked.
func (e *Engine) LoadAttempts() int {
	return int(e.attempts.Load())
}

func (e *Engine) Config() ModelConfig {
	return e.config
}

// Infer scores t. A tensor that does not have the configured shape is a
// programming error and panics.
func (e *Engine) Infer(ctx context.Context, t Tensor) (ScoreVector, error) {
	if err := e.Load(); errors.Is(err, ErrEngineClosed) {
		return nil, err
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if !t.Matches(e.config) {
		panic(fmt.Sprintf("tensor shape %v with %d values, expected %v", t.Shape, len(t.Data), e.config.InputShape()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	out, err := e.session.Run(t.Data)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(out) != len(e.config.Labels) {
		e.log.Warnw("Unexpected score count", "got", len(out), "expected", len(e.config.Labels))
	}
	return ScoreVector(out), nil
}

// Close releases the session. Infer calls after Close fail with ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		return e.session.Close()
	}
	return nil
}
