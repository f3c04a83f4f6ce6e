// Package worker runs the inference side of the bridge: it owns the model
// lifecycle and serves GENERATE requests over a transport.
package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/bridge"
	"github.com/ent0n29/vaani/internal/inference"
	"github.com/ent0n29/vaani/internal/protocol"
)

const (
	DefaultContextLength = 4096
	warmupPrompt         = "Hello"
)

// Config lists the models INIT prepares.
type Config struct {
	Models        []inference.Model
	ContextLength int
}

func generateDefaults() inference.GenerateOptions {
	return inference.GenerateOptions{
		MaxTokens:     256,
		Temperature:   0.7,
		TopP:          0.9,
		RepeatPenalty: 1.1,
		StopSequences: []string{"User:", "\n\n\n"},
	}
}

func quizDefaults() inference.GenerateOptions {
	return inference.GenerateOptions{
		MaxTokens:   150,
		Temperature: 0.3,
		TopP:        0.9,
	}
}

// Host is the far side of a bridge.Client.
type Host struct {
	gen    inference.Generator
	models inference.ModelManager
	cfg    Config
	logger zerolog.Logger

	initMu sync.Mutex
	ready  bool

	upgrader websocket.Upgrader
}

func NewHost(gen inference.Generator, models inference.ModelManager, cfg Config, logger zerolog.Logger) *Host {
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = DefaultContextLength
	}
	if models != nil && len(cfg.Models) > 0 {
		models.RegisterModels(cfg.Models)
	}
	return &Host{
		gen:    gen,
		models: models,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler upgrades to a websocket and serves one bridge connection.
func (h *Host) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr := bridge.NewWebSocketTransport(conn)
		defer tr.Close()
		h.logger.Info().Str("remote", r.RemoteAddr).Msg("bridge connected")
		if err := h.Serve(r.Context(), tr); err != nil {
			h.logger.Warn().Err(err).Msg("bridge connection ended")
		}
	})
}

// Serve processes frames from one transport until it closes or ctx ends.
func (h *Host) Serve(ctx context.Context, tr bridge.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		host:    h,
		tr:      tr,
		cancels: make(map[string]context.CancelFunc),
	}
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	for {
		msg, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bridge.ErrTransportClosed) {
				return nil
			}
			return err
		}
		switch msg.Type {
		case protocol.WorkerInit:
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handleInit(ctx)
			}()
		case protocol.WorkerGenerate, protocol.WorkerGenerateQuiz:
			c.startGenerate(ctx, msg)
		case protocol.WorkerAbort:
			c.abort(msg.ID)
		default:
			h.logger.Warn().Str("type", string(msg.Type)).Msg("ignoring unknown frame")
		}
	}
}

// Init prepares every configured model and warms the generator up. It is
// idempotent across connections.
func (h *Host) Init(ctx context.Context) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	if h.ready {
		return nil
	}
	if h.models != nil {
		for _, m := range h.cfg.Models {
			if err := h.models.DownloadModel(ctx, m.ID); err != nil {
				return err
			}
			if err := h.models.LoadModel(ctx, m.ID, inference.LoadOptions{ContextLength: h.cfg.ContextLength}); err != nil {
				return err
			}
		}
	}
	_, err := h.gen.GenerateStream(ctx, warmupPrompt, inference.GenerateOptions{MaxTokens: 5, Temperature: 0.1}, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("warm-up generation failed")
	}
	h.ready = true
	return nil
}

type connection struct {
	host *Host
	tr   bridge.Transport
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *connection) handleInit(ctx context.Context) {
	if err := c.host.Init(ctx); err != nil {
		c.host.logger.Error().Err(err).Msg("worker init failed")
		c.send(ctx, protocol.WorkerMessage{Type: protocol.WorkerInitFail, Error: err.Error()})
		return
	}
	c.send(ctx, protocol.WorkerMessage{Type: protocol.WorkerInitOK})
}

func (c *connection) send(ctx context.Context, msg protocol.WorkerMessage) {
	if err := c.tr.Send(ctx, msg); err != nil && ctx.Err() == nil {
		c.host.logger.Debug().Err(err).Str("type", string(msg.Type)).Msg("send failed")
	}
}

func (c *connection) abort(id string) {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	delete(c.cancels, id)
	c.mu.Unlock()
	if ok {
		cancel()
		c.host.logger.Debug().Str("id", id).Msg("generation aborted")
	}
}

func (c *connection) startGenerate(ctx context.Context, msg protocol.WorkerMessage) {
	opts := generateDefaults()
	if msg.Type == protocol.WorkerGenerateQuiz {
		opts = quizDefaults()
	}
	applyOverrides(&opts, msg.Options)

	genCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if prev, ok := c.cancels[msg.ID]; ok {
		prev()
	}
	c.cancels[msg.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.cancels, msg.ID)
			c.mu.Unlock()
			cancel()
		}()
		c.generate(ctx, genCtx, msg, opts)
	}()
}

func (c *connection) generate(connCtx, genCtx context.Context, msg protocol.WorkerMessage, opts inference.GenerateOptions) {
	var acc strings.Builder
	gen, err := c.host.gen.GenerateStream(genCtx, msg.Prompt, opts, func(tok string) error {
		if err := genCtx.Err(); err != nil {
			return err
		}
		acc.WriteString(tok)
		c.send(connCtx, protocol.WorkerMessage{
			Type:        protocol.WorkerToken,
			ID:          msg.ID,
			Token:       tok,
			Accumulated: acc.String(),
		})
		return nil
	})
	if genCtx.Err() != nil {
		return
	}
	if err != nil {
		partial := strings.TrimSpace(acc.String())
		if partial != "" {
			c.host.logger.Warn().Err(err).Str("id", msg.ID).Msg("generation failed after partial output")
			c.send(connCtx, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: partial})
			return
		}
		c.send(connCtx, protocol.WorkerMessage{Type: protocol.WorkerError, ID: msg.ID, Error: err.Error()})
		return
	}
	text := gen.Text
	if text == "" {
		text = acc.String()
	}
	c.send(connCtx, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: strings.TrimSpace(text)})
}

func applyOverrides(opts *inference.GenerateOptions, o *protocol.WorkerGenerateOptions) {
	if o == nil {
		return
	}
	if o.SystemPrompt != "" {
		opts.SystemPrompt = o.SystemPrompt
	}
	if o.MaxTokens > 0 {
		opts.MaxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		opts.Temperature = *o.Temperature
	}
	if o.TopP > 0 {
		opts.TopP = o.TopP
	}
	if o.StopSequences != nil {
		opts.StopSequences = o.StopSequences
	}
}
