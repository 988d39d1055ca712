package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/queue"
	"github.com/randalmurphal/kernelmux/session"
)

// staticSource is a single-generation Source.
type staticSource struct {
	q      *queue.Queue[kernel.Message]
	closed atomic.Bool
}

func newStaticSource() *staticSource {
	return &staticSource{q: queue.NewFanIn[kernel.Message]()}
}

func (s *staticSource) Queue() *queue.Queue[kernel.Message] { return s.q }
func (s *staticSource) Generation() uint64                  { return 0 }
func (s *staticSource) Closed() bool                        { return s.closed.Load() }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func result(id, text string) kernel.Message {
	return kernel.MustMessage(kernel.MsgExecuteResult, kernel.ExecuteResultContent{
		Data: map[string]any{"text/plain": text},
	}).InReplyTo(id)
}

func stream(id, text string) kernel.Message {
	return kernel.MustMessage(kernel.MsgStream, kernel.StreamContent{Name: "stdout", Text: text}).InReplyTo(id)
}

func status(id string, state kernel.ExecutionState) kernel.Message {
	return kernel.MustMessage(kernel.MsgStatus, kernel.StatusContent{ExecutionState: state}).InReplyTo(id)
}

func TestRouter_FutureResolvesWithContent(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	r.Dispatch(status("abc", kernel.StateBusy))
	r.Dispatch(result("abc", "X"))
	r.Dispatch(status("abc", kernel.StateIdle))

	msg, err := f.Wait(testCtx(t))
	require.NoError(t, err)
	require.NotNil(t, msg)

	c, err := msg.Decode()
	require.NoError(t, err)
	assert.Equal(t, "X", c.(*kernel.ExecuteResultContent).Text())
	assert.Equal(t, 0, r.Pending(), "waiter entry is removed")
	assert.EqualValues(t, 1, r.Routed())
}

func TestRouter_FutureResolvesWithNilOnIdle(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)

	r.Dispatch(status("abc", kernel.StateIdle))
	r.Dispatch(result("abc", "late"))

	msg, err := f.Wait(testCtx(t))
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_StreamYieldsContentUntilIdle(t *testing.T) {
	r := New(newStaticSource())

	s, err := r.Stream("xyz")
	require.NoError(t, err)

	r.Dispatch(status("xyz", kernel.StateBusy))
	r.Dispatch(stream("xyz", "one"))
	r.Dispatch(stream("xyz", "two"))
	r.Dispatch(kernel.MustMessage(kernel.MsgError, kernel.ErrorContent{EName: "E"}).InReplyTo("xyz"))
	r.Dispatch(status("xyz", kernel.StateIdle))

	var types []kernel.MsgType
	for msg := range s.All(testCtx(t)) {
		types = append(types, msg.Type())
	}
	assert.Equal(t, []kernel.MsgType{kernel.MsgStream, kernel.MsgStream, kernel.MsgError}, types)
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, r.Pending())

	_, err = s.Next(testCtx(t))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRouter_DropsUnroutable(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)

	r.Dispatch(result("other", "x"))
	r.Dispatch(kernel.MustMessage(kernel.MsgExecuteInput, nil).InReplyTo("abc"))
	r.Dispatch(kernel.MustMessage(kernel.MsgExecuteReply, nil).InReplyTo("abc"))
	r.Dispatch(status("abc", kernel.StateBusy))

	assert.EqualValues(t, 4, r.Dropped())
	assert.Equal(t, 1, r.Pending())
	select {
	case <-f.Done():
		t.Fatal("future resolved by an unroutable message")
	default:
	}
}

func TestRouter_MisspelledIdleFieldDoesNotResolve(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)

	msg := kernel.Message{
		Header:       kernel.Header{MsgID: "s", MsgType: kernel.MsgStatus},
		ParentHeader: kernel.Header{MsgID: "abc"},
		Content:      json.RawMessage(`{"executeion_state":"idle"}`),
	}
	r.Dispatch(msg)

	assert.Equal(t, 1, r.Pending())
	select {
	case <-f.Done():
		t.Fatal("future resolved by a status without execution_state")
	default:
	}
}

func TestRouter_DuplicateWaiter(t *testing.T) {
	r := New(newStaticSource())

	_, err := r.Expect("abc")
	require.NoError(t, err)

	_, err = r.Expect("abc")
	assert.ErrorIs(t, err, ErrDuplicateWaiter)
	_, err = r.Stream("abc")
	assert.ErrorIs(t, err, ErrDuplicateWaiter)
}

func TestRouter_WaitTimeoutRemovesEntry(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, r.Pending())

	// The id can be registered again.
	_, err = r.Expect("abc")
	assert.NoError(t, err)
}

func TestRouter_StaleRemoveKeepsNewWaiter(t *testing.T) {
	r := New(newStaticSource())

	old, err := r.Stream("abc")
	require.NoError(t, err)
	r.Forget("abc")

	_, err = r.Expect("abc")
	require.NoError(t, err)

	old.Close()
	assert.Equal(t, 1, r.Pending(), "closing a forgotten stream must not remove its successor")
}

func TestRouter_Shutdown(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("a")
	require.NoError(t, err)
	s, err := r.Stream("b")
	require.NoError(t, err)
	r.Dispatch(stream("b", "kept"))

	r.Shutdown()

	_, err = f.Wait(testCtx(t))
	assert.ErrorIs(t, err, ErrCanceled)

	msgs := slices.Collect(s.All(testCtx(t)))
	assert.Len(t, msgs, 1, "content received before shutdown is still delivered")
	assert.ErrorIs(t, s.Err(), ErrCanceled)

	_, err = r.Expect("c")
	assert.ErrorIs(t, err, ErrRouterClosed)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_OnResult(t *testing.T) {
	r := New(newStaticSource())

	got := make(chan string, 1)
	err := r.OnResult("abc", func(msg *kernel.Message, err error) {
		if err != nil || msg == nil {
			got <- "unexpected"
			return
		}
		c, _ := msg.Decode()
		got <- c.(*kernel.ExecuteResultContent).Text()
	})
	require.NoError(t, err)

	r.Dispatch(result("abc", "42"))

	select {
	case v := <-got:
		assert.Equal(t, "42", v)
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}

func TestRouter_OnResultCancelledOnShutdown(t *testing.T) {
	r := New(newStaticSource())

	var gotErr atomic.Value
	require.NoError(t, r.OnResult("abc", func(_ *kernel.Message, err error) {
		gotErr.Store(err)
	}))

	r.Shutdown() // waits for the callback

	err, _ := gotErr.Load().(error)
	assert.True(t, errors.Is(err, ErrCanceled))
}

func TestRouter_RunStopsOnContext(t *testing.T) {
	src := newStaticSource()
	r := New(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	f, err := r.Expect("abc")
	require.NoError(t, err)
	require.NoError(t, src.q.PutNowait(result("abc", "1")))

	_, err = f.Wait(testCtx(t))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRouter_RunReturnsWhenSourceEnds(t *testing.T) {
	src := newStaticSource()
	r := New(src)

	f, err := r.Expect("abc")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	src.q.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	_, err = f.Wait(testCtx(t))
	assert.ErrorIs(t, err, ErrCanceled)
}

func newManager(t *testing.T, responder func(kernel.ExecuteRequest) []kernel.Message) *session.Manager {
	t.Helper()
	prov := kernel.NewMockProvisioner().WithClientFunc(func(id string) *kernel.MockClient {
		return kernel.NewMockClient(id).WithResponder(responder)
	})
	m := session.NewManager(prov)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func startRouter(t *testing.T, src Source) *Router {
	t.Helper()
	r := New(src)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRouter_RequestThroughManager(t *testing.T) {
	m := newManager(t, kernel.EchoResponder)
	r := startRouter(t, m)
	ctx := testCtx(t)

	_, err := m.StartSession(ctx, "main")
	require.NoError(t, err)

	f, err := r.Request(ctx, m, "main", "6*7")
	require.NoError(t, err)

	msg, err := f.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, f.ID(), msg.CorrelationID())

	c, err := msg.Decode()
	require.NoError(t, err)
	assert.Equal(t, "6*7", c.(*kernel.ExecuteResultContent).Text())
}

func TestRouter_RequestStreamThroughManager(t *testing.T) {
	printer := func(req kernel.ExecuteRequest) []kernel.Message {
		return []kernel.Message{
			status(req.MsgID, kernel.StateBusy),
			stream(req.MsgID, "a\n"),
			stream(req.MsgID, "b\n"),
			stream(req.MsgID, "c\n"),
			status(req.MsgID, kernel.StateIdle),
		}
	}
	m := newManager(t, printer)
	r := startRouter(t, m)
	ctx := testCtx(t)

	_, err := m.StartSession(ctx, "main")
	require.NoError(t, err)

	s, err := r.RequestStream(ctx, m, "main", "for x in 'abc': print(x)")
	require.NoError(t, err)
	defer s.Close()

	var text string
	for msg := range s.All(ctx) {
		c, err := msg.Decode()
		require.NoError(t, err)
		text += c.(*kernel.StreamContent).Text
	}
	assert.Equal(t, "a\nb\nc\n", text)
	assert.NoError(t, s.Err())
}

func TestRouter_RequestUnknownSession(t *testing.T) {
	m := newManager(t, kernel.EchoResponder)
	r := New(m)

	_, err := r.Request(testCtx(t), m, "missing", "1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_ResetCancelsOldGeneration(t *testing.T) {
	silent := func(kernel.ExecuteRequest) []kernel.Message { return nil }
	m := newManager(t, silent)
	r := startRouter(t, m)
	ctx := testCtx(t)

	_, err := m.StartSession(ctx, "main")
	require.NoError(t, err)

	stale, err := r.Request(ctx, m, "main", "sleep forever")
	require.NoError(t, err)

	require.NoError(t, m.StopAll(ctx))

	_, err = stale.Wait(ctx)
	assert.ErrorIs(t, err, ErrCanceled)

	// The router follows the new generation.
	_, err = m.StartSession(ctx, "main")
	require.NoError(t, err)
	f, err := r.Expect("fresh")
	require.NoError(t, err)
	require.NoError(t, m.Queue().PutNowait(result("fresh", "ok")))

	msg, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", msg.CorrelationID())
}

func TestRouter_ManagerCloseShutsRouterDown(t *testing.T) {
	m := newManager(t, func(kernel.ExecuteRequest) []kernel.Message { return nil })
	r := New(m)
	ctx := testCtx(t)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := m.StartSession(ctx, "main")
	require.NoError(t, err)
	f, err := r.Request(ctx, m, "main", "x")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after manager close")
	}
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestRouter_RunShutsDownOnContextEnd(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Expect("abc")
	require.NoError(t, err)
	called := make(chan error, 1)
	require.NoError(t, r.OnResult("def", func(_ *kernel.Message, err error) {
		called <- err
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer waitCancel()
	_, err = f.Wait(waitCtx)
	assert.ErrorIs(t, err, ErrCanceled)

	select {
	case err := <-called:
		assert.ErrorIs(t, err, ErrCanceled)
	default:
		t.Fatal("callback did not run before Run returned")
	}

	_, err = r.Expect("late")
	assert.ErrorIs(t, err, ErrRouterClosed)
	assert.Equal(t, 0, r.Pending())
}

// generationExec runs fn for every request and reports the generation it
// returns.
type generationExec func(id string) uint64

func (e generationExec) ExecuteInGeneration(_ context.Context, _, _ string, opts ...session.ExecuteOption) (string, uint64, error) {
	var req kernel.ExecuteRequest
	for _, opt := range opts {
		opt(&req)
	}
	return req.MsgID, e(req.MsgID), nil
}

func (e generationExec) Execute(ctx context.Context, name, code string, opts ...session.ExecuteOption) (string, error) {
	id, _, err := e.ExecuteInGeneration(ctx, name, code, opts...)
	return id, err
}

// plainExec is an Executor that does not report generations.
type plainExec func(id string)

func (e plainExec) Execute(_ context.Context, _, _ string, opts ...session.ExecuteOption) (string, error) {
	var req kernel.ExecuteRequest
	for _, opt := range opts {
		opt(&req)
	}
	e(req.MsgID)
	return req.MsgID, nil
}

func TestRouter_RequestDuringResetJoinsNewGeneration(t *testing.T) {
	r := New(newStaticSource())

	// Generation 0 ends while the request is on its way to a session that
	// was started in generation 1.
	exec := generationExec(func(string) uint64 {
		r.cancelBefore(1)
		return 1
	})

	f, err := r.Request(testCtx(t), exec, "main", "x")
	require.NoError(t, err)
	s, err := r.RequestStream(testCtx(t), exec, "main", "y")
	require.NoError(t, err)

	select {
	case <-f.Done():
		t.Fatal("request to a live generation was cancelled")
	default:
	}
	assert.Equal(t, 2, r.Pending())

	r.Dispatch(result(f.ID(), "ok"))
	msg, err := f.Wait(testCtx(t))
	require.NoError(t, err)
	require.NotNil(t, msg)

	r.Dispatch(stream(s.ID(), "out"))
	r.Dispatch(status(s.ID(), kernel.StateIdle))
	assert.Len(t, slices.Collect(s.All(testCtx(t))), 1)
	assert.NoError(t, s.Err())

	// The next reset ends generation 1.
	g, err := r.Request(testCtx(t), generationExec(func(string) uint64 { return 1 }), "main", "z")
	require.NoError(t, err)
	r.cancelBefore(2)
	_, err = g.Wait(testCtx(t))
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestRouter_RequestToEndedGenerationIsCancelled(t *testing.T) {
	r := New(newStaticSource())

	exec := generationExec(func(string) uint64 {
		r.cancelBefore(1)
		return 0
	})

	f, err := r.Request(testCtx(t), exec, "main", "x")
	require.NoError(t, err)
	_, err = f.Wait(testCtx(t))
	assert.ErrorIs(t, err, ErrCanceled)

	s, err := r.RequestStream(testCtx(t), exec, "main", "y")
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(s.All(testCtx(t))))
	assert.ErrorIs(t, s.Err(), ErrCanceled)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_RequestWithoutGenerationsUsesSource(t *testing.T) {
	r := New(newStaticSource())

	f, err := r.Request(testCtx(t), plainExec(func(string) {}), "main", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	r.cancelBefore(1)
	_, err = f.Wait(testCtx(t))
	assert.ErrorIs(t, err, ErrCanceled)
}
