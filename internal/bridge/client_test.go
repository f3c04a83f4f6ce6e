package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/vaani/internal/protocol"
)

type scriptedWorker struct {
	initReply  protocol.WorkerMessageType
	initDelay  time.Duration
	onGenerate func(tr Transport, msg protocol.WorkerMessage)
	aborts     chan RequestID
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{initReply: protocol.WorkerInitOK, aborts: make(chan RequestID, 16)}
}

func (w *scriptedWorker) serve(tr Transport) {
	ctx := context.Background()
	for {
		msg, err := tr.Receive(ctx)
		if err != nil {
			return
		}
		switch msg.Type {
		case protocol.WorkerInit:
			if w.initReply == "" {
				continue
			}
			go func() {
				time.Sleep(w.initDelay)
				_ = tr.Send(ctx, protocol.WorkerMessage{Type: w.initReply, Error: "model missing"})
			}()
		case protocol.WorkerGenerate, protocol.WorkerGenerateQuiz:
			if w.onGenerate != nil {
				go w.onGenerate(tr, msg)
			}
		case protocol.WorkerAbort:
			w.aborts <- RequestID(msg.ID)
		}
	}
}

func newTestClient(t *testing.T, w *scriptedWorker, opts ...Option) (*Client, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	dial := func(context.Context) (Transport, error) {
		dials.Add(1)
		client, server := NewPipe()
		go w.serve(server)
		return client, nil
	}
	c := New(dial, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, &dials
}

func readyClient(t *testing.T, w *scriptedWorker, opts ...Option) *Client {
	t.Helper()
	c, _ := newTestClient(t, w, opts...)
	if !c.Initialize(context.Background()) {
		t.Fatalf("Initialize() = false, want true")
	}
	return c
}

func send(tr Transport, msg protocol.WorkerMessage) {
	_ = tr.Send(context.Background(), msg)
}

func TestInitializeMemoizesSuccess(t *testing.T) {
	w := newScriptedWorker()
	w.initDelay = 20 * time.Millisecond
	c, dials := newTestClient(t, w)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Initialize(context.Background())
		}(i)
	}
	wg.Wait()
	for i, ok := range results {
		if !ok {
			t.Fatalf("Initialize() call %d = false, want true", i)
		}
	}
	if !c.Initialize(context.Background()) {
		t.Fatalf("later Initialize() = false, want true")
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if !c.IsAvailable() {
		t.Fatalf("IsAvailable() = false after INIT_OK")
	}
	if got := c.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestInitializeFailureIsTerminal(t *testing.T) {
	w := newScriptedWorker()
	w.initReply = protocol.WorkerInitFail
	c, dials := newTestClient(t, w)

	if c.Initialize(context.Background()) {
		t.Fatalf("Initialize() = true after INIT_FAIL")
	}
	if c.Initialize(context.Background()) {
		t.Fatalf("second Initialize() = true, want memoized false")
	}
	if dials.Load() != 1 {
		t.Fatalf("dials = %d, want 1", dials.Load())
	}
	if c.IsAvailable() {
		t.Fatalf("IsAvailable() = true after INIT_FAIL")
	}
	if _, err := c.Generate(context.Background(), "hi", GenerateOptions{}, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrUnavailable", err)
	}
}

func TestInitializeTimesOut(t *testing.T) {
	w := newScriptedWorker()
	w.initReply = ""
	c, _ := newTestClient(t, w, WithInitTimeout(50*time.Millisecond))

	start := time.Now()
	if c.Initialize(context.Background()) {
		t.Fatalf("Initialize() = true without INIT_OK")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Initialize() took %v, want about 50ms", elapsed)
	}
	if c.IsAvailable() {
		t.Fatalf("IsAvailable() = true after init timeout")
	}
	if got := c.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestInitializeCallerContextDoesNotChangeOutcome(t *testing.T) {
	w := newScriptedWorker()
	w.initDelay = 100 * time.Millisecond
	c, _ := newTestClient(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if c.Initialize(ctx) {
		t.Fatalf("Initialize(short ctx) = true, want false")
	}
	if !c.Initialize(context.Background()) {
		t.Fatalf("Initialize() = false, want true once the worker is ready")
	}
}

func TestInitializeDialFailure(t *testing.T) {
	c := New(func(context.Context) (Transport, error) { return nil, errors.New("refused") })
	defer c.Close()
	if c.Initialize(context.Background()) {
		t.Fatalf("Initialize() = true after dial failure")
	}
	if c.IsAvailable() {
		t.Fatalf("IsAvailable() = true after dial failure")
	}
}

func TestGenerateStreamsAccumulatedTokens(t *testing.T) {
	w := newScriptedWorker()
	seen := make(chan protocol.WorkerMessage, 1)
	w.onGenerate = func(tr Transport, msg protocol.WorkerMessage) {
		seen <- msg
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerToken, ID: msg.ID, Token: "Hel", Accumulated: "Hel"})
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerToken, ID: msg.ID, Token: "lo", Accumulated: "Hello"})
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: "Hello"})
	}
	c := readyClient(t, w)

	var tokens []string
	res, err := c.Generate(context.Background(), "hi", GenerateOptions{MaxTokens: 64, Temperature: 0.7}, func(acc string) {
		tokens = append(tokens, acc)
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want Hello", res.Text)
	}
	if len(tokens) != 2 || tokens[0] != "Hel" || tokens[1] != "Hello" {
		t.Fatalf("tokens = %v, want [Hel Hello]", tokens)
	}
	msg := <-seen
	if msg.Type != protocol.WorkerGenerate || msg.Options == nil || msg.Options.MaxTokens != 64 {
		t.Fatalf("unexpected request frame: %+v", msg)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}

func TestGenerateQuizUsesQuizFrame(t *testing.T) {
	w := newScriptedWorker()
	w.onGenerate = func(tr Transport, msg protocol.WorkerMessage) {
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: string(msg.Type)})
	}
	c := readyClient(t, w)
	res, err := c.Generate(context.Background(), "quiz", GenerateOptions{Quiz: true}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != string(protocol.WorkerGenerateQuiz) {
		t.Fatalf("frame type = %q, want GENERATE_QUIZ", res.Text)
	}
}

func TestGenerateRemoteError(t *testing.T) {
	w := newScriptedWorker()
	w.onGenerate = func(tr Transport, msg protocol.WorkerMessage) {
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerError, ID: msg.ID, Error: "out of memory"})
	}
	c := readyClient(t, w)
	_, err := c.Generate(context.Background(), "hi", GenerateOptions{}, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "out of memory" {
		t.Fatalf("Generate() error = %v, want RemoteError", err)
	}
}

func TestGenerateTimeoutAbortsAndDropsLateReply(t *testing.T) {
	w := newScriptedWorker()
	held := make(chan protocol.WorkerMessage, 1)
	var hostTr atomic.Value
	w.onGenerate = func(tr Transport, msg protocol.WorkerMessage) {
		hostTr.Store(tr)
		held <- msg
	}
	c := readyClient(t, w)

	var tokenCalls atomic.Int32
	res, err := c.Generate(context.Background(), "slow", GenerateOptions{Timeout: 30 * time.Millisecond}, func(string) {
		tokenCalls.Add(1)
	})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("Generate() error = %v, want ErrRequestTimeout", err)
	}
	if err.Error() != "response took too long, please try again" {
		t.Fatalf("error text = %q", err.Error())
	}
	select {
	case id := <-w.aborts:
		if id != res.ID {
			t.Fatalf("ABORT id = %q, want %q", id, res.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("no ABORT sent after timeout")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}

	msg := <-held
	tr := hostTr.Load().(Transport)
	send(tr, protocol.WorkerMessage{Type: protocol.WorkerToken, ID: msg.ID, Token: "late"})
	send(tr, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: "late"})
	time.Sleep(20 * time.Millisecond)
	if tokenCalls.Load() != 0 {
		t.Fatalf("token callback ran after timeout")
	}
	if !c.IsAvailable() {
		t.Fatalf("IsAvailable() = false after a single request timeout")
	}
}

func TestGenerateMultiplexesConcurrentRequests(t *testing.T) {
	w := newScriptedWorker()
	w.onGenerate = func(tr Transport, msg protocol.WorkerMessage) {
		// Later prompts answer first.
		time.Sleep(time.Duration(10-len(msg.Prompt)) * 5 * time.Millisecond)
		send(tr, protocol.WorkerMessage{Type: protocol.WorkerDone, ID: msg.ID, Text: "echo:" + msg.Prompt})
	}
	c := readyClient(t, w)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(prompt string) {
			defer wg.Done()
			res, err := c.Generate(context.Background(), prompt, GenerateOptions{}, nil)
			if err != nil {
				errs <- err
				return
			}
			if res.Text != "echo:"+prompt {
				errs <- fmt.Errorf("prompt %q got %q", prompt, res.Text)
			}
		}(fmt.Sprintf("%0*d", i, i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestGenerateContextCancelAborts(t *testing.T) {
	w := newScriptedWorker()
	w.onGenerate = func(Transport, protocol.WorkerMessage) {}
	c := readyClient(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "hi", GenerateOptions{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want context deadline", err)
	}
	select {
	case <-w.aborts:
	case <-time.After(time.Second):
		t.Fatalf("no ABORT sent after cancellation")
	}
}

func TestAbortAllFailsPending(t *testing.T) {
	w := newScriptedWorker()
	started := make(chan struct{}, 2)
	w.onGenerate = func(Transport, protocol.WorkerMessage) { started <- struct{}{} }
	c := readyClient(t, w)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Generate(context.Background(), "hi", GenerateOptions{}, nil)
			errs <- err
		}()
	}
	<-started
	<-started
	c.AbortAll()

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrAborted) {
			t.Fatalf("Generate() error = %v, want ErrAborted", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-w.aborts:
		case <-time.After(time.Second):
			t.Fatalf("missing ABORT frame %d", i)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
	if !c.IsAvailable() {
		t.Fatalf("IsAvailable() = false after AbortAll")
	}
}

func TestTransportFailureFailsPending(t *testing.T) {
	w := newScriptedWorker()
	w.onGenerate = func(tr Transport, _ protocol.WorkerMessage) { _ = tr.Close() }
	c := readyClient(t, w)

	_, err := c.Generate(context.Background(), "hi", GenerateOptions{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrUnavailable", err)
	}
	if c.IsAvailable() {
		t.Fatalf("IsAvailable() = true after transport failure")
	}
}

func TestCloseFailsPending(t *testing.T) {
	w := newScriptedWorker()
	started := make(chan struct{}, 1)
	w.onGenerate = func(Transport, protocol.WorkerMessage) { started <- struct{}{} }
	c := readyClient(t, w)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), "hi", GenerateOptions{}, nil)
		errs <- err
	}()
	<-started
	_ = c.Close()
	if err := <-errs; !errors.Is(err, ErrClosed) {
		t.Fatalf("Generate() error = %v, want ErrClosed", err)
	}
	if c.IsAvailable() {
		t.Fatalf("IsAvailable() = true after Close")
	}
}

func TestRequestIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]+-[0-9a-z]{4}$`)
	for i := 0; i < 20; i++ {
		if id := newRequestID(); !re.MatchString(string(id)) {
			t.Fatalf("newRequestID() = %q, want base36 millis and 4 char suffix", id)
		}
	}
}
