// Package tutor turns learner utterances into teaching replies, quiz
// questions and speaking feedback. Generation goes to the worker bridge
// first and falls back to a direct provider.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/bridge"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/inference"
	"github.com/ent0n29/vaani/internal/logging"
	"github.com/ent0n29/vaani/internal/reliability"
)

const (
	DefaultGenerationTimeout = 120 * time.Second
	DefaultQuizTimeout       = 7 * time.Second
	DefaultQuizWorkerTimeout = 20 * time.Second
)

var (
	ErrEmptyResponse     = reliability.NewError("empty response from language model", "empty")
	ErrGenerationTimeout = reliability.NewError("response took too long, please try again", "timeout")
	ErrAborted           = reliability.NewError("aborted by user", "aborted")
)

// Generation paths reported to the Recorder.
const (
	PathWorker   = "worker"
	PathDirect   = "direct"
	PathFallback = "fallback"
	PathFailed   = "failed"
)

// WorkerClient is the subset of bridge.Client the orchestrator needs.
type WorkerClient interface {
	IsAvailable() bool
	Generate(ctx context.Context, prompt string, opts bridge.GenerateOptions, onToken func(accumulated string)) (bridge.Result, error)
}

// Recorder observes which path served a request.
type Recorder interface {
	ObserveGeneration(kind, path string)
}

type Config struct {
	GenerationTimeout time.Duration
	QuizTimeout       time.Duration
	QuizWorkerTimeout time.Duration
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithQuizBank(b *QuizBank) Option { return func(o *Orchestrator) { o.bank = b } }

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	worker   WorkerClient
	direct   inference.Generator
	bank     *QuizBank
	recorder Recorder
	logger   zerolog.Logger
}

// New builds an orchestrator. worker may be nil when no worker runs.
func New(cfg Config, worker WorkerClient, direct inference.Generator, opts ...Option) *Orchestrator {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.QuizTimeout <= 0 {
		cfg.QuizTimeout = DefaultQuizTimeout
	}
	if cfg.QuizWorkerTimeout <= 0 {
		cfg.QuizWorkerTimeout = DefaultQuizWorkerTimeout
	}
	o := &Orchestrator{
		cfg:    cfg,
		worker: worker,
		direct: direct,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bank == nil {
		o.bank = DefaultQuizBank()
	}
	return o
}

// Response is a cleaned teaching reply.
type Response struct {
	Text     string
	Teaching Teaching
	Language Language
	Path     string
}

var responseOptions = inference.GenerateOptions{
	SystemPrompt:  SystemPrompt,
	MaxTokens:     256,
	Temperature:   0.7,
	TopP:          0.9,
	RepeatPenalty: 1.1,
	StopSequences: []string{"User:", "\n\n\n\n"},
	ContextLength: 4096,
}

// GenerateResponse produces the tutor reply to utterance. onToken, if set,
// receives the accumulated raw text as it streams. hint overrides language
// detection when non-empty.
func (o *Orchestrator) GenerateResponse(ctx context.Context, utterance string, history []conversation.Message, onToken func(accumulated string), hint Language) (Response, error) {
	lang := hint
	if lang == "" {
		lang = DetectLanguage(utterance)
	}
	prompt := BuildPrompt(utterance, history)
	log := o.logger.With().Str("language", string(lang)).Logger()

	var text, path string
	if o.workerAvailable() {
		res, err := o.worker.Generate(ctx, prompt, bridge.GenerateOptions{
			Timeout:       o.cfg.GenerationTimeout,
			SystemPrompt:  responseOptions.SystemPrompt,
			MaxTokens:     responseOptions.MaxTokens,
			Temperature:   responseOptions.Temperature,
			TopP:          responseOptions.TopP,
			StopSequences: responseOptions.StopSequences,
		}, onToken)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("worker generation failed, falling back to direct provider")
		case strings.TrimSpace(res.Text) == "":
			log.Warn().Msg("worker returned empty text, falling back to direct provider")
		default:
			text, path = res.Text, PathWorker
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if path == "" {
		partial, err := o.streamDirect(ctx, "generation", o.cfg.GenerationTimeout, prompt, responseOptions, onToken)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{}, ctxErr
			}
			if strings.TrimSpace(partial) == "" {
				o.observe("response", PathFailed)
				return Response{}, fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
			}
			log.Warn().Err(err).Int("partial_len", len(partial)).Msg("direct generation failed, keeping partial text")
		}
		text, path = partial, PathDirect
	}

	cleaned := CleanLLMOutput(text)
	if cleaned == "" {
		o.observe("response", PathFailed)
		return Response{}, ErrEmptyResponse
	}
	o.observe("response", path)
	log.Debug().Str("path", path).Int("len", len(cleaned)).Msg("response generated")
	return Response{
		Text:     cleaned,
		Teaching: ParseTeachingResponse(cleaned),
		Language: lang,
		Path:     path,
	}, nil
}

// streamDirect runs the direct provider under a ceiling and returns whatever
// text streamed before an error. Tokens arriving after the ceiling are not
// forwarded.
func (o *Orchestrator) streamDirect(ctx context.Context, stage string, ceiling time.Duration, prompt string, opts inference.GenerateOptions, onToken func(string)) (string, error) {
	if o.direct == nil {
		return "", errors.New("no direct generator configured")
	}
	var (
		mu  sync.Mutex
		buf strings.Builder
	)
	_, err := reliability.RunWithTimeout(ctx, ceiling, stage, func(runCtx context.Context) (struct{}, error) {
		_, err := o.direct.GenerateStream(runCtx, prompt, opts, func(tok string) error {
			if err := runCtx.Err(); err != nil {
				return err
			}
			mu.Lock()
			buf.WriteString(tok)
			acc := buf.String()
			mu.Unlock()
			if onToken != nil {
				onToken(acc)
			}
			return nil
		})
		return struct{}{}, err
	})
	mu.Lock()
	defer mu.Unlock()
	return buf.String(), err
}

var quizOptions = inference.GenerateOptions{
	SystemPrompt: quizSystemPrompt,
	MaxTokens:    150,
	Temperature:  0.3,
}

// GenerateQuiz asks the model for one question on topic and falls back to
// the offline bank on any failure. Cancellation of ctx returns ErrAborted.
func (o *Orchestrator) GenerateQuiz(ctx context.Context, topic string) (QuizResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "random"
	}
	prompt := quizPrompt(topic)
	log := o.logger.With().Str("topic", topic).Logger()

	var text, path string
	if o.workerAvailable() {
		res, err := o.worker.Generate(ctx, prompt, bridge.GenerateOptions{
			Quiz:         true,
			Timeout:      o.cfg.QuizWorkerTimeout,
			SystemPrompt: quizOptions.SystemPrompt,
			MaxTokens:    quizOptions.MaxTokens,
			Temperature:  quizOptions.Temperature,
		}, nil)
		if ctx.Err() != nil {
			return QuizResult{}, ErrAborted
		}
		if err != nil {
			log.Warn().Err(err).Msg("worker quiz failed, falling back to direct provider")
		} else if strings.TrimSpace(res.Text) != "" {
			text, path = res.Text, PathWorker
		}
	}

	if path == "" {
		out, err := o.streamDirect(ctx, "quiz generation", o.cfg.QuizTimeout, prompt, quizOptions, nil)
		if ctx.Err() != nil {
			return QuizResult{}, ErrAborted
		}
		if err != nil {
			log.Warn().Err(err).Msg("quiz generation failed, using offline question")
			return o.fallbackQuiz(topic), nil
		}
		text, path = out, PathDirect
	}

	q, ok := ParseQuizResponse(text)
	if !ok {
		log.Warn().Str("raw", logging.Redact(text, 200)).Msg("quiz reply did not parse, using offline question")
		return o.fallbackQuiz(topic), nil
	}
	if q.Topic == "" && topic != "random" {
		q.Topic = topic
	}
	o.observe("quiz", path)
	return QuizResult{Question: q}, nil
}

func (o *Orchestrator) fallbackQuiz(topic string) QuizResult {
	o.observe("quiz", PathFallback)
	return QuizResult{IsFallback: true, Question: o.bank.Pick(topic)}
}

var feedbackOptions = inference.GenerateOptions{
	SystemPrompt:  feedbackSystemPrompt,
	MaxTokens:     150,
	Temperature:   0.5,
	StopSequences: []string{"\n\n\n"},
}

// GenerateFeedback assesses a spoken sentence with the direct provider.
// Generation failures yield an empty result and no error.
func (o *Orchestrator) GenerateFeedback(ctx context.Context, sentence string) (FeedbackResult, error) {
	text, err := o.streamDirect(ctx, "feedback generation", o.cfg.GenerationTimeout, feedbackPrompt(sentence), feedbackOptions, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FeedbackResult{}, ctxErr
		}
		o.logger.Warn().Err(err).Msg("feedback generation failed")
		o.observe("feedback", PathFailed)
		return FeedbackResult{}, nil
	}
	o.observe("feedback", PathDirect)
	fb := ParseFeedback(text)
	return FeedbackResult{Text: strings.TrimSpace(text), Feedback: &fb}, nil
}

// Topics lists the quiz topics the offline bank covers.
func (o *Orchestrator) Topics() []string { return o.bank.Topics() }

// WorkerAvailable reports whether requests currently go to the worker.
func (o *Orchestrator) WorkerAvailable() bool { return o.workerAvailable() }

func (o *Orchestrator) workerAvailable() bool {
	return o.worker != nil && o.worker.IsAvailable()
}

func (o *Orchestrator) observe(kind, path string) {
	if o.recorder != nil {
		o.recorder.ObserveGeneration(kind, path)
	}
}
