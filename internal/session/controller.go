// Package session drives one upload from file selection to a terminal
// Completed or Failed state and publishes every state change.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/brewguard/internal/classifier"
	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/logging"
	"github.com/example/brewguard/internal/progress"
)

const eventContext = "session"

// State is a step of the session lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateEncoding         State = "encoding"
	StateSubmitting       State = "submitting"
	StateAwaitingResponse State = "awaiting_response"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Validator checks and encodes an upload before any request is built.
type Validator interface {
	Validate(candidate detection.UploadCandidate) error
	Encode(ctx context.Context, candidate detection.UploadCandidate) (detection.EncodedImage, error)
}

// Submitter dispatches a detection request to the proxy.
type Submitter interface {
	Submit(ctx context.Context, req detection.DetectionRequest) detection.Outcome
}

// Classifier interprets an outcome.
type Classifier interface {
	Classify(outcome detection.Outcome) classifier.Result
}

// Snapshot is an immutable view of a session. Version increases with every
// published change, so listeners can discard out-of-order deliveries.
type Snapshot struct {
	Version    uint64
	SessionID  string
	State      State
	FileName   string
	Progress   float64
	Result     *detection.DetectionResponse
	Err        *detection.ErrorEnvelope
	StartedAt  time.Time
	FinishedAt time.Time
}

type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	snap   Snapshot
}

// Controller owns the active session. Only the most recent Submit call may
// publish; results of superseded sessions are dropped.
type Controller struct {
	validator  Validator
	submitter  Submitter
	classifier Classifier
	estimator  *progress.Estimator
	options    detection.Options
	emitter    *events.Emitter
	logger     *zap.Logger

	mu        sync.Mutex
	current   *session
	snapshot  Snapshot
	version   uint64
	listeners []func(Snapshot)
	closed    bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithEstimator overrides the progress estimator.
func WithEstimator(e *progress.Estimator) Option {
	return func(c *Controller) {
		if e != nil {
			c.estimator = e
		}
	}
}

// WithOptions overrides the detection options sent with every request.
func WithOptions(opts detection.Options) Option {
	return func(c *Controller) {
		c.options = opts
	}
}

// WithEvents attaches the event emitter.
func WithEvents(e *events.Emitter) Option {
	return func(c *Controller) {
		c.emitter = e
	}
}

// NewController wires the pipeline stages together.
func NewController(v Validator, s Submitter, cl Classifier, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		validator:  v,
		submitter:  s,
		classifier: cl,
		estimator:  progress.NewEstimator(),
		options:    detection.DefaultOptions(),
		logger:     logger.Named("session_controller"),
		snapshot:   Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the state of the current session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Subscribe registers fn for every published snapshot. fn runs outside the
// controller lock and may be invoked from the progress goroutine.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Close cancels the active session. Later Submit calls fail immediately.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.current != nil {
		c.current.cancel()
	}
}

// Submit runs a new session for candidate and blocks until it reaches a
// terminal state. Any session still in flight is cancelled and its late
// result is discarded. The returned snapshot describes this session even
// if it was superseded.
func (c *Controller) Submit(ctx context.Context, candidate detection.UploadCandidate) Snapshot {
	sess, err := c.begin(ctx, candidate)
	if err != nil {
		return Snapshot{State: StateFailed, FileName: candidate.FileName, Err: &detection.ErrorEnvelope{
			Kind: detection.KindUnexpected, Message: err.Error(),
		}}
	}
	defer sess.cancel()

	opLogger := logging.WithOperation(c.logger, "session.submit", sess.id)
	opLogger.Info("session started", zap.String("file_name", candidate.FileName), zap.Int64("size_bytes", candidate.SizeBytes))

	if err := c.validator.Validate(candidate); err != nil {
		return c.finish(sess, nil, classifier.Result{Err: envelopeFor(err)}, opLogger)
	}

	c.transition(sess, StateEncoding)
	image, err := c.validator.Encode(sess.ctx, candidate)
	if err != nil {
		return c.finish(sess, nil, classifier.Result{Err: envelopeFor(err)}, opLogger)
	}

	req, err := detection.NewDetectionRequest(image, c.options)
	if err != nil {
		return c.finish(sess, nil, classifier.Result{Err: &detection.ErrorEnvelope{
			Kind: detection.KindUnexpected, Message: "Failed to build detection request", Details: err.Error(),
		}}, opLogger)
	}

	c.transition(sess, StateSubmitting)
	handle := c.estimator.Start(sess.ctx, func(v float64) { c.updateProgress(sess, v) })

	c.transition(sess, StateAwaitingResponse)
	outcome := c.submitter.Submit(sess.ctx, req)
	return c.finish(sess, handle, c.classifier.Classify(outcome), opLogger)
}

func (c *Controller) begin(ctx context.Context, candidate detection.UploadCandidate) (*session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("session controller is closed")
	}
	supersededID := ""
	if prev := c.current; prev != nil && !prev.snap.State.Terminal() {
		prev.cancel()
		supersededID = prev.id
	}

	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:     id,
		ctx:    sessCtx,
		cancel: cancel,
		snap: Snapshot{
			SessionID: id,
			State:     StateValidating,
			FileName:  candidate.FileName,
			StartedAt: time.Now().UTC(),
		},
	}
	c.current = sess
	snap, listeners := c.publishLocked(sess)
	c.mu.Unlock()

	if supersededID != "" {
		c.emitter.Info(eventContext, "session superseded", map[string]any{"sessionId": supersededID, "by": sess.id})
	}
	c.emitter.Info(eventContext, "session started", map[string]any{"sessionId": sess.id, "fileName": candidate.FileName})
	notify(listeners, snap)
	return sess, nil
}

// transition moves sess to a non-terminal state. Stale sessions still track
// their own state but no longer publish.
func (c *Controller) transition(sess *session, state State) {
	c.mu.Lock()
	if sess.snap.State.Terminal() {
		c.mu.Unlock()
		return
	}
	sess.snap.State = state
	if c.current != sess {
		c.mu.Unlock()
		return
	}
	snap, listeners := c.publishLocked(sess)
	c.mu.Unlock()

	c.emitter.Debug(eventContext, "state changed", map[string]any{"sessionId": sess.id, "state": string(state)})
	notify(listeners, snap)
}

func (c *Controller) updateProgress(sess *session, value float64) {
	c.mu.Lock()
	if c.current != sess || sess.snap.State.Terminal() || value <= sess.snap.Progress {
		c.mu.Unlock()
		return
	}
	sess.snap.Progress = value
	snap, listeners := c.publishLocked(sess)
	c.mu.Unlock()

	notify(listeners, snap)
}

// finish stops the estimator outside the lock, since its callback takes the
// lock, then settles sess in its terminal state.
func (c *Controller) finish(sess *session, handle *progress.Handle, result classifier.Result, opLogger *zap.Logger) Snapshot {
	final := 0.0
	if result.OK() {
		final = progress.Complete
	}
	settled := 0.0
	if handle != nil {
		settled = handle.Stop(final)
	} else if result.OK() {
		settled = progress.Complete
	}

	c.mu.Lock()
	if sess.snap.State.Terminal() {
		snap := sess.snap
		c.mu.Unlock()
		return snap
	}
	if settled > sess.snap.Progress {
		sess.snap.Progress = settled
	}
	sess.snap.FinishedAt = time.Now().UTC()
	if result.OK() {
		sess.snap.State = StateCompleted
		sess.snap.Result = result.Response
	} else {
		sess.snap.State = StateFailed
		sess.snap.Err = result.Err
	}
	stale := c.current != sess
	var listeners []func(Snapshot)
	snap := sess.snap
	if !stale {
		snap, listeners = c.publishLocked(sess)
	}
	c.mu.Unlock()

	data := map[string]any{"sessionId": sess.id, "progress": snap.Progress}
	switch {
	case stale:
		opLogger.Info("discarding result of superseded session", zap.String("state", string(snap.State)))
		c.emitter.Debug(eventContext, "stale result ignored", data)
	case snap.State == StateCompleted:
		data["detections"] = len(snap.Result.Detections)
		opLogger.Info("session completed", zap.Int("detections", len(snap.Result.Detections)))
		c.emitter.Info(eventContext, "session completed", data)
	default:
		data["kind"] = string(snap.Err.Kind)
		opLogger.Warn("session failed", zap.String("kind", string(snap.Err.Kind)), zap.Error(snap.Err))
		c.emitter.Error(eventContext, "session failed", snap.Err, data)
	}

	notify(listeners, snap)
	return snap
}

func (c *Controller) publishLocked(sess *session) (Snapshot, []func(Snapshot)) {
	c.version++
	sess.snap.Version = c.version
	c.snapshot = sess.snap
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	return c.snapshot, listeners
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

type enveloper interface {
	Envelope() *detection.ErrorEnvelope
}

func envelopeFor(err error) *detection.ErrorEnvelope {
	var env enveloper
	if errors.As(err, &env) {
		return env.Envelope()
	}
	var direct *detection.ErrorEnvelope
	if errors.As(err, &direct) {
		return direct
	}
	return &detection.ErrorEnvelope{Kind: detection.KindReadError, Message: "Failed to read image file", Details: err.Error()}
}
