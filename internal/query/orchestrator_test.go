package query

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ragbridge/internal/corpus"
	"ragbridge/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, program string, args []string) (pipeline.Result, error) {
	ret := m.Called(ctx, program, args)
	return ret.Get(0).(pipeline.Result), ret.Error(1)
}

func newOrchestrator(t *testing.T, runner pipeline.Runner, lock *corpus.Lock) *Orchestrator {
	t.Helper()
	if lock == nil {
		lock = &corpus.Lock{}
	}
	o, err := New(lock, runner, []string{"python", "query_rag.py"}, nil)
	require.NoError(t, err)
	return o
}

func TestQueryForwardsQuestionAndHistory(t *testing.T) {
	runner := &mockRunner{}
	history := []Turn{
		json.RawMessage(`{"question":"Qui?","answer":"L'ANP"}`),
		json.RawMessage(`{"question":"Quand?","answer":"2023"}`),
	}
	runner.On("Run", mock.Anything, "python", []string{
		"query_rag.py",
		"Quel est le trafic?",
		`[{"question":"Qui?","answer":"L'ANP"},{"question":"Quand?","answer":"2023"}]`,
	}).Return(pipeline.Result{Stdout: []byte("{\"answer\":\"42\",\"sources\":[]}\n")}, nil).Once()

	answer, err := newOrchestrator(t, runner, nil).Query(context.Background(), "Quel est le trafic?", history)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42","sources":[]}`, string(answer))
	runner.AssertExpectations(t)
}

func TestQueryNilHistoryIsEmptyArray(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, "python", []string{"query_rag.py", "q", "[]"}).
		Return(pipeline.Result{Stdout: []byte(`{"answer":"ok"}`)}, nil).Once()

	_, err := newOrchestrator(t, runner, nil).Query(context.Background(), "q", nil)
	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestQueryMissingQuestionNeverInvokes(t *testing.T) {
	runner := &mockRunner{}
	o := newOrchestrator(t, runner, nil)

	_, err := o.Query(context.Background(), "", nil)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindMissingQuestion, qe.Kind)
	assert.True(t, qe.ClientError())
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryBlankQuestionIsForwarded(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, "python", []string{"query_rag.py", "   ", "[]"}).
		Return(pipeline.Result{Stdout: []byte(`{"answer":"?"}`)}, nil).Once()

	answer, err := newOrchestrator(t, runner, nil).Query(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"?"}`, string(answer))
	runner.AssertExpectations(t)
}

func TestQueryAbandonedWhileIngesting(t *testing.T) {
	runner := &mockRunner{}
	lock := &corpus.Lock{}
	o := newOrchestrator(t, runner, lock)

	release := lock.Ingesting()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := o.Query(ctx, "q", nil)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	release()

	err := <-errc
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindPipelineFailed, qe.Kind)
	assert.True(t, errors.Is(err, context.Canceled))
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryMalformedResponse(t *testing.T) {
	cases := []string{
		"not valid json",
		"",
		`{"answer":"a"}{"answer":"b"}`,
		`Chargement du modèle... {"answer":"a"}`,
		"{\"answer\":\"\xff\xfe\"}",
	}
	for _, stdout := range cases {
		runner := &mockRunner{}
		runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
			Return(pipeline.Result{Stdout: []byte(stdout)}, nil)

		_, err := newOrchestrator(t, runner, nil).Query(context.Background(), "q", nil)
		var qe *Error
		require.True(t, errors.As(err, &qe), "stdout %q", stdout)
		assert.Equal(t, KindMalformedResponse, qe.Kind)
		if stdout != "" {
			assert.NotContains(t, qe.Error(), stdout, "raw output leaked into error")
		}
	}
}

func TestQueryPipelineFailure(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(pipeline.Result{}, &pipeline.InvocationError{
		Program:  "python",
		Kind:     pipeline.KindNonZeroExit,
		ExitCode: 1,
		Stderr:   []byte("ModuleNotFoundError: qdrant_client"),
	})

	_, err := newOrchestrator(t, runner, nil).Query(context.Background(), "q", nil)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindPipelineFailed, qe.Kind)
	assert.Equal(t, "ModuleNotFoundError: qdrant_client", qe.Details)
	assert.False(t, qe.ClientError())
}

func TestQueryTimeoutIsPipelineFailure(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(pipeline.Result{}, &pipeline.InvocationError{
		Program: "python",
		Kind:    pipeline.KindTimeout,
		Err:     pipeline.ErrTimeout,
	})

	_, err := newOrchestrator(t, runner, nil).Query(context.Background(), "q", nil)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindPipelineFailed, qe.Kind)
	assert.True(t, errors.Is(err, pipeline.ErrTimeout))
}

func TestQueryWaitsForIngestion(t *testing.T) {
	lock := &corpus.Lock{}
	runner := &mockRunner{}
	var ranAt time.Time
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ranAt = time.Now() }).
		Return(pipeline.Result{Stdout: []byte(`{}`)}, nil)
	o := newOrchestrator(t, runner, lock)

	release := lock.Ingesting()
	done := make(chan error, 1)
	go func() {
		_, err := o.Query(context.Background(), "q", nil)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	releasedAt := time.Now()
	release()

	require.NoError(t, <-done)
	assert.True(t, ranAt.After(releasedAt))
}

func TestQueriesRunInParallel(t *testing.T) {
	lock := &corpus.Lock{}
	runner := &mockRunner{}
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	var overlapped atomic.Int32
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			arrived.Done()
			select {
			case <-both:
				overlapped.Add(1)
			case <-time.After(2 * time.Second):
			}
		}).
		Return(pipeline.Result{Stdout: []byte(`{}`)}, nil)
	o := newOrchestrator(t, runner, lock)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := o.Query(context.Background(), "q", nil)
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, int32(2), overlapped.Load(), "queries were serialized")
}

func TestDecodeAnswerKeepsBytes(t *testing.T) {
	doc, err := DecodeAnswer([]byte("  {\"answer\": \"42\",  \"sources\": []}\r\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "42",  "sources": []}`, string(doc))
}
