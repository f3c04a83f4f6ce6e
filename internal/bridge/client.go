// Package bridge multiplexes generation requests to a worker host over a
// single transport using correlation ids.
package bridge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/protocol"
	"github.com/ent0n29/vaani/internal/reliability"
)

const (
	DefaultInitTimeout    = 180 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	abortSendTimeout = 2 * time.Second
)

var (
	ErrRequestTimeout = reliability.NewError("response took too long, please try again", "timeout")
	ErrAborted        = reliability.NewError("request aborted", "aborted")
	ErrUnavailable    = reliability.NewError("worker unavailable", "unavailable")
	ErrClosed         = reliability.NewError("worker bridge closed", "unavailable")
)

// RemoteError is an ERROR frame reported by the worker host.
type RemoteError struct {
	ID      RequestID
	Message string
}

func (e *RemoteError) Error() string     { return "worker error: " + e.Message }
func (e *RemoteError) ErrorCode() string { return "remote" }

// RequestID correlates frames of one request.
type RequestID string

// initRequestID is reserved for the init handshake and survives AbortAll.
const initRequestID RequestID = "__init__"

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func newRequestID() RequestID {
	var suffix [4]byte
	for i := range suffix {
		suffix[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return RequestID(strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + string(suffix[:]))
}

// GenerateOptions tunes one request. Zero values keep the worker defaults.
type GenerateOptions struct {
	Quiz          bool
	Timeout       time.Duration
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string
}

// Result is the final text of a completed request.
type Result struct {
	ID   RequestID
	Text string
}

// Recorder observes request outcomes. observability.Metrics implements it.
type Recorder interface {
	ObserveBridgeRequest(outcome string, elapsed time.Duration)
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithInitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

type outcome struct {
	text string
	err  error
}

type pendingRequest struct {
	id      RequestID
	done    chan outcome
	onToken func(accumulated string)

	mu       sync.Mutex
	finished bool
	buf      strings.Builder
}

// seal stops further token delivery.
func (p *pendingRequest) seal() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
}

func (p *pendingRequest) finish(o outcome) {
	p.seal()
	p.done <- o
}

func (p *pendingRequest) deliverToken(msg protocol.WorkerMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.buf.WriteString(msg.Token)
	acc := msg.Accumulated
	if acc == "" {
		acc = p.buf.String()
	}
	if p.onToken != nil {
		p.onToken(acc)
	}
}

// Client owns one worker connection and its request table.
type Client struct {
	dial           Dialer
	logger         zerolog.Logger
	initTimeout    time.Duration
	requestTimeout time.Duration
	recorder       Recorder

	baseCtx    context.Context
	baseCancel context.CancelFunc

	initOnce sync.Once
	initDone chan struct{}
	initOK   bool

	mu        sync.Mutex
	transport Transport
	available bool
	down      bool
	pending   map[RequestID]*pendingRequest
}

func New(dial Dialer, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		dial:           dial,
		logger:         zerolog.Nop(),
		initTimeout:    DefaultInitTimeout,
		requestTimeout: DefaultRequestTimeout,
		baseCtx:        ctx,
		baseCancel:     cancel,
		initDone:       make(chan struct{}),
		pending:        make(map[RequestID]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize connects and performs the handshake once. Every caller sees the
// same outcome; a caller whose ctx ends first gets false without changing it.
func (c *Client) Initialize(ctx context.Context) bool {
	c.initOnce.Do(func() { go c.runInit() })
	select {
	case <-c.initDone:
		return c.initOK
	case <-ctx.Done():
		return false
	}
}

func (c *Client) runInit() {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.initTimeout)
	defer cancel()
	start := time.Now()
	ok := c.initialize(ctx)
	if ok {
		c.logger.Info().Dur("elapsed", time.Since(start)).Msg("worker ready")
	}
	c.initOK = ok
	close(c.initDone)
}

func (c *Client) initialize(ctx context.Context) bool {
	t, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("worker dial failed")
		c.shutdown(ErrUnavailable)
		return false
	}

	p := &pendingRequest{id: initRequestID, done: make(chan outcome, 1)}
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		_ = t.Close()
		return false
	}
	c.transport = t
	c.pending[initRequestID] = p
	c.mu.Unlock()

	go c.readLoop(t)

	if err := t.Send(ctx, protocol.WorkerMessage{Type: protocol.WorkerInit}); err != nil {
		c.logger.Warn().Err(err).Msg("worker init send failed")
		c.shutdown(fmt.Errorf("%w: %v", ErrUnavailable, err))
		return false
	}

	select {
	case o := <-p.done:
		if o.err != nil {
			c.logger.Warn().Err(o.err).Msg("worker init failed")
			c.shutdown(fmt.Errorf("%w: %v", ErrUnavailable, o.err))
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.down {
			return false
		}
		c.available = true
		return true
	case <-ctx.Done():
		c.take(initRequestID)
		c.logger.Warn().Dur("timeout", c.initTimeout).Msg("worker init timed out")
		c.shutdown(fmt.Errorf("%w: init timed out", ErrUnavailable))
		return false
	}
}

// IsAvailable reports whether the handshake succeeded and nothing failed since.
func (c *Client) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available && !c.down
}

// Pending returns the number of in-flight entries, including the handshake.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Generate sends one request and waits for DONE, ERROR, the request timeout
// or ctx. onToken receives the accumulated text after every token.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions, onToken func(accumulated string)) (Result, error) {
	start := time.Now()
	res, err := c.generate(ctx, prompt, opts, onToken)
	if c.recorder != nil {
		c.recorder.ObserveBridgeRequest(reliability.Classify(err), time.Since(start))
	}
	return res, err
}

func (c *Client) generate(ctx context.Context, prompt string, opts GenerateOptions, onToken func(string)) (Result, error) {
	p, t, err := c.register(onToken)
	if err != nil {
		return Result{}, err
	}

	msg := protocol.WorkerMessage{
		Type:    protocol.WorkerGenerate,
		ID:      string(p.id),
		Prompt:  prompt,
		Options: wireOptions(opts),
	}
	if opts.Quiz {
		msg.Type = protocol.WorkerGenerateQuiz
	}
	if err := t.Send(ctx, msg); err != nil {
		if c.take(p.id) != nil {
			p.seal()
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		o := <-p.done
		return Result{ID: p.id, Text: o.text}, o.err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.done:
		return Result{ID: p.id, Text: o.text}, o.err
	case <-timer.C:
		return c.abandon(p, ErrRequestTimeout)
	case <-ctx.Done():
		return c.abandon(p, ctx.Err())
	}
}

// abandon removes p if still pending and tells the worker to stop. If another
// path took p first, its outcome wins.
func (c *Client) abandon(p *pendingRequest, cause error) (Result, error) {
	if c.take(p.id) == nil {
		o := <-p.done
		return Result{ID: p.id, Text: o.text}, o.err
	}
	p.seal()
	c.sendAbort(p.id)
	return Result{ID: p.id}, cause
}

func (c *Client) register(onToken func(string)) (*pendingRequest, Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available || c.down || c.transport == nil {
		return nil, nil, ErrUnavailable
	}
	id := newRequestID()
	for c.pending[id] != nil {
		id = newRequestID()
	}
	p := &pendingRequest{id: id, done: make(chan outcome, 1), onToken: onToken}
	c.pending[id] = p
	return p, c.transport, nil
}

// take removes and returns the entry for id. Only the caller that gets a
// non-nil entry may resolve it.
func (c *Client) take(id RequestID) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

func (c *Client) lookup(id RequestID) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

// AbortAll fails every in-flight request with ErrAborted. The handshake is
// left alone.
func (c *Client) AbortAll() {
	c.mu.Lock()
	aborted := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		if id == initRequestID {
			continue
		}
		delete(c.pending, id)
		aborted = append(aborted, p)
	}
	c.mu.Unlock()

	for _, p := range aborted {
		p.finish(outcome{err: ErrAborted})
		c.sendAbort(p.id)
	}
	if len(aborted) > 0 {
		c.logger.Debug().Int("count", len(aborted)).Msg("aborted pending requests")
	}
}

// Close marks the bridge unavailable, fails everything pending with ErrClosed
// and closes the transport.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	c.baseCancel()
	return nil
}

func (c *Client) sendAbort(id RequestID) {
	c.mu.Lock()
	t := c.transport
	down := c.down
	c.mu.Unlock()
	if t == nil || down {
		return
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, abortSendTimeout)
	defer cancel()
	if err := t.Send(ctx, protocol.WorkerMessage{Type: protocol.WorkerAbort, ID: string(id)}); err != nil {
		c.logger.Debug().Err(err).Str("id", string(id)).Msg("abort send failed")
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	c.available = false
	t := c.transport
	pending := c.pending
	c.pending = make(map[RequestID]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.finish(outcome{err: cause})
	}
	if t != nil {
		_ = t.Close()
	}
}

func (c *Client) readLoop(t Transport) {
	for {
		msg, err := t.Receive(c.baseCtx)
		if err != nil {
			c.mu.Lock()
			down := c.down
			c.mu.Unlock()
			if !down {
				c.logger.Warn().Err(err).Msg("worker transport failed")
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrUnavailable, err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.WorkerMessage) {
	switch msg.Type {
	case protocol.WorkerInitOK:
		if p := c.take(initRequestID); p != nil {
			p.finish(outcome{})
		}
	case protocol.WorkerInitFail:
		if p := c.take(initRequestID); p != nil {
			p.finish(outcome{err: fmt.Errorf("worker init failed: %s", msg.Error)})
		}
	case protocol.WorkerToken:
		p := c.lookup(RequestID(msg.ID))
		if p == nil {
			c.logger.Debug().Str("id", msg.ID).Msg("dropping token for unknown request")
			return
		}
		p.deliverToken(msg)
	case protocol.WorkerDone:
		p := c.take(RequestID(msg.ID))
		if p == nil {
			c.logger.Debug().Str("id", msg.ID).Msg("dropping done for unknown request")
			return
		}
		p.finish(outcome{text: msg.Text})
	case protocol.WorkerError:
		p := c.take(RequestID(msg.ID))
		if p == nil {
			c.logger.Debug().Str("id", msg.ID).Msg("dropping error for unknown request")
			return
		}
		p.finish(outcome{err: &RemoteError{ID: p.id, Message: msg.Error}})
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring worker frame")
	}
}

func wireOptions(opts GenerateOptions) *protocol.WorkerGenerateOptions {
	w := &protocol.WorkerGenerateOptions{
		SystemPrompt:  opts.SystemPrompt,
		MaxTokens:     opts.MaxTokens,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		w.Temperature = &t
	}
	return w
}
