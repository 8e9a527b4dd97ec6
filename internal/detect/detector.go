// Package detect coordinates detection requests across goroutines and publishes
// their progress as a single observable State.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Brownie44l1/currency-api/internal/decision"
	"github.com/Brownie44l1/currency-api/internal/model"
	"github.com/Brownie44l1/currency-api/internal/preprocess"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("detector closed")

// Classifier scores a preprocessed tensor. *model.Engine and
// *model.FixedClassifier both satisfy it.
type Classifier interface {
	Infer(ctx context.Context, t model.Tensor) (model.ScoreVector, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, t model.Tensor) (model.ScoreVector, error)

func (f ClassifierFunc) Infer(ctx context.Context, t model.Tensor) (model.ScoreVector, error) {
	return f(ctx, t)
}

type Options struct {
	// LatestOnly discards a terminal state unless it belongs to the most recent
	// request. By default requests are not cancelled and whichever finishes
	// last is the one left visible.
	LatestOnly bool

	// Timeout bounds the compute step of each request. Zero means no limit.
	Timeout time.Duration
}

// Stats counts requests over the lifetime of a Detector.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}

// Detector owns the current State. Submit may be called from any goroutine.
type Detector struct {
	config     model.ModelConfig
	classifier Classifier
	pool       *Pool
	opts       Options
	log        *zap.SugaredLogger

	pub publisher
	// Guarded by pub.mu, only touched inside publisher.update.
	seq    uint64
	latest uint64

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

// New creates a Detector. The pool is borrowed, not owned: Close waits for this
// Detector's requests but leaves the pool running.
func New(config model.ModelConfig, classifier Classifier, pool *Pool, logger *zap.SugaredLogger, opts Options) *Detector {
	return &Detector{
		config:     config,
		classifier: classifier,
		pool:       pool,
		opts:       opts,
		log:        logger,
	}
}

// Submit starts a detection of img and returns without waiting for it.
// An unusable image is rejected with preprocess.ErrInvalidImage before any
// state is published. Otherwise Loading is published before Submit returns,
// and a terminal Success or Error state follows from the pool.
func (d *Detector) Submit(img image.Image) error {
	if err := preprocess.Validate(img); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	var seq uint64
	d.pub.update(func(State) (State, bool) {
		d.seq++
		seq = d.seq
		d.latest = seq
		return State{Kind: Loading, Seq: seq, Image: img}, true
	})
	d.submitted.Inc()
	d.log.Debugw("Detection submitted", "seq", seq, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	err := d.pool.Go(func() {
		d.run(seq, img)
	})
	if err != nil {
		d.finish(d.errorState(seq, img, err))
		d.inflight.Done()
		return err
	}
	return nil
}

// State returns the current state.
func (d *Detector) State() State {
	return d.pub.get()
}

// Subscribe returns a channel that receives the current state immediately and
// then every transition in publish order. Call cancel to stop receiving; the
// channel is closed by cancel or by Close.
func (d *Detector) Subscribe() (states <-chan State, cancel func()) {
	return d.pub.subscribe()
}

// Clear resets the state to Idle.
func (d *Detector) Clear() {
	d.pub.update(func(State) (State, bool) {
		if d.opts.LatestOnly {
			// Requests still running are now stale.
			d.seq++
			d.latest = d.seq
		}
		return State{Kind: Idle, Seq: d.seq}, true
	})
}

func (d *Detector) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Discarded: d.discarded.Load(),
	}
}

// Close rejects further submissions, waits for running requests to publish
// their terminal state, then closes all subscriber channels.
func (d *Detector) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
	d.pub.close()
}

func (d *Detector) run(seq uint64, img image.Image) {
	defer d.inflight.Done()

	var terminal State
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("Detection panicked", "seq", seq, "panic", r)
			terminal = d.errorState(seq, img, fmt.Errorf("%v", r))
		}
		d.finish(terminal)
	}()

	ctx := context.Background()
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := d.detect(ctx, img)
	if err != nil {
		terminal = d.errorState(seq, img, err)
		return
	}
	d.log.Infow("Detection finished", "seq", seq, "label", result.Label,
		"confidence", result.Confidence, "elapsed", time.Since(start))
	terminal = State{Kind: Success, Seq: seq, Image: img, Result: result}
}

func (d *Detector) detect(ctx context.Context, img image.Image) (model.DetectionResult, error) {
	tensor, err := preprocess.Preprocess(img, d.config)
	if err != nil {
		return model.DetectionResult{}, err
	}
	scores, err := d.classifier.Infer(ctx, tensor)
	if errors.Is(err, model.ErrModelUnavailable) {
		return model.NoDetection(img), nil
	}
	if err != nil {
		return model.DetectionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.DetectionResult{}, err
	}
	result := decision.Decide(scores, d.config.Labels, d.config.ConfidenceThreshold)
	result.Source = img
	return result, nil
}

func (d *Detector) errorState(seq uint64, img image.Image, err error) State {
	d.log.Warnw("Detection failed", "seq", seq, "error", err)
	return State{
		Kind:    Error,
		Seq:     seq,
		Image:   img,
		Message: "Detection failed: " + err.Error(),
	}
}

// finish publishes the terminal state of a request.
func (d *Detector) finish(terminal State) {
	published := d.pub.update(func(cur State) (State, bool) {
		if d.opts.LatestOnly && terminal.Seq != d.latest {
			return cur, false
		}
		return terminal, true
	})
	switch {
	case !published:
		d.discarded.Inc()
		d.log.Debugw("Stale detection discarded", "seq", terminal.Seq)
	case terminal.Kind == Success:
		d.succeeded.Inc()
	default:
		d.failed.Inc()
	}
}
