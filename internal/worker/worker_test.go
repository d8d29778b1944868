package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/diagramq/internal/engine"
	"github.com/yokitheyo/diagramq/internal/model"
	"github.com/yokitheyo/diagramq/internal/store"
)

// scriptedEngine emits a fixed list of fragments. When fault is set it is
// returned in place of the fragment at index failAt.
type scriptedEngine struct {
	fragments []string
	failAt    int
	fault     error
	notReady  bool

	// gate, when set, must be received from before each fragment after the first
	gate    chan struct{}
	started chan struct{}

	mu      sync.Mutex
	lastReq engine.Request
}

func (e *scriptedEngine) Ready(context.Context) bool {
	return !e.notReady
}

func (e *scriptedEngine) Generate(ctx context.Context, req engine.Request, emit func(string) error) error {
	e.mu.Lock()
	e.lastReq = req
	e.mu.Unlock()

	for i, f := range e.fragments {
		if e.fault != nil && i == e.failAt {
			return e.fault
		}
		if e.gate != nil && i > 0 {
			select {
			case <-e.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := emit(f); err != nil {
			return err
		}
		if i == 0 && e.started != nil {
			close(e.started)
		}
	}
	return nil
}

func (e *scriptedEngine) request() engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq
}

// recordingStore keeps every committed task snapshot and can be told to
// start failing writes after a number of successful ones.
type recordingStore struct {
	*store.MemoryStore

	mu        sync.Mutex
	history   []model.Task
	updates   int
	failAfter int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *recordingStore) Update(ctx context.Context, id string, fn store.MutateFunc) (model.Task, error) {
	s.mu.Lock()
	s.updates++
	n := s.updates
	s.mu.Unlock()

	if s.failAfter > 0 && n > s.failAfter {
		return model.Task{}, store.ErrUnavailable
	}

	task, err := s.MemoryStore.Update(ctx, id, fn)
	if err == nil {
		s.mu.Lock()
		s.history = append(s.history, task)
		s.mu.Unlock()
	}
	return task, err
}

func (s *recordingStore) snapshots() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Task(nil), s.history...)
}

func diagramFragments() []string {
	return []string{
		"Sure! ", "Here ", "it ", "is:\n", "```mermaid\n",
		"sequenceDiagram\n", "  User->>App: ", "login\n", "  App->>DB: ", "check\n",
		"  DB-->>App: ", "ok\n", "```", "\n", "Done.",
	}
}

func newTestWorker(t *testing.T, st store.Store, eng engine.Engine) *Worker {
	t.Helper()
	adapter, err := engine.AdapterFor(engine.FamilyGemma)
	require.NoError(t, err)

	w, err := New(st, eng, adapter, Config{Policy: DefaultPolicy(engine.FamilyGemma)}, nil)
	require.NoError(t, err)
	return w
}

func submit(t *testing.T, st store.Store, id string, in model.Input) model.Job {
	t.Helper()
	require.NoError(t, st.Create(context.Background(), model.NewTask(id, in, time.Now())))
	return model.Job{TaskID: id, Input: in, EnqueuedAt: time.Now()}
}

func statuses(history []model.Task) []model.TaskStatus {
	out := make([]model.TaskStatus, 0, len(history))
	for _, t := range history {
		out = append(out, t.Status)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	adapter, _ := engine.AdapterFor(engine.FamilyGemma)
	eng := &scriptedEngine{}
	st := store.NewMemoryStore()
	cfg := Config{Policy: DefaultPolicy(engine.FamilyGemma)}

	_, err := New(nil, eng, adapter, cfg, nil)
	assert.ErrorIs(t, err, ErrStoreNil)
	_, err = New(st, nil, adapter, cfg, nil)
	assert.ErrorIs(t, err, ErrEngineNil)
	_, err = New(st, eng, nil, cfg, nil)
	assert.ErrorIs(t, err, ErrAdapterNil)
	_, err = New(st, eng, adapter, Config{}, nil)
	assert.Error(t, err)
}

func TestProcess_Success(t *testing.T) {
	st := newRecordingStore()
	eng := &scriptedEngine{fragments: diagramFragments()}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "user logs in", Mode: model.ModeGenerate})

	require.NoError(t, w.Process(context.Background(), job))

	history := st.snapshots()
	assert.Equal(t, []model.TaskStatus{
		model.StatusStarted,
		model.StatusProgress,
		model.StatusProgress,
		model.StatusProgress,
		model.StatusSuccess,
	}, statuses(history))

	prev := 0
	for _, snap := range history[:len(history)-1] {
		assert.GreaterOrEqual(t, snap.Percent, prev)
		assert.Less(t, snap.Percent, 100)
		prev = snap.Percent
	}
	assert.Equal(t, "generating... (5 fragments)", history[1].Message)
	assert.Equal(t, "Sure! Here it is:\n```mermaid\n", history[1].PartialResult)

	final, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, engine.FamilyGemma, final.Engine)
	assert.Equal(t, 1, final.Attempt)
	require.NotNil(t, final.Result)
	assert.Equal(t, "sequenceDiagram\n  User->>App: login\n  App->>DB: check\n  DB-->>App: ok", *final.Result)

	req := eng.request()
	assert.Contains(t, req.Prompt, "user logs in")
	assert.Contains(t, req.Prompt, generateInstruction)
}

func TestProcess_FixModeUsesRepairInstruction(t *testing.T) {
	st := newRecordingStore()
	eng := &scriptedEngine{fragments: []string{"```mermaid\ngraph TD\nA-->B\n```"}}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "graph TD\nA-->", Mode: model.ModeFix})

	require.NoError(t, w.Process(context.Background(), job))

	assert.Contains(t, eng.request().Prompt, fixInstruction)
	final, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, "graph TD\nA-->B", *final.Result)
}

func TestProcess_EngineFaultMidStream(t *testing.T) {
	st := newRecordingStore()
	eng := &scriptedEngine{
		fragments: diagramFragments(),
		failAt:    7,
		fault:     &engine.GenerationError{Engine: "gemma", Message: "device lost"},
	}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	require.NoError(t, w.Process(context.Background(), job))

	history := st.snapshots()
	assert.Equal(t, []model.TaskStatus{
		model.StatusStarted,
		model.StatusProgress,
		model.StatusFailure,
	}, statuses(history))

	final, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, model.StatusFailure, final.Status)
	assert.Less(t, final.Percent, 100)
	require.NotNil(t, final.Result)
	assert.Equal(t, "gemma: device lost", *final.Result)
}

func TestProcess_EngineNotReady(t *testing.T) {
	st := newRecordingStore()
	w := newTestWorker(t, st, &scriptedEngine{notReady: true})
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	require.NoError(t, w.Process(context.Background(), job))

	final, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, model.StatusFailure, final.Status)
	assert.Equal(t, engine.ErrUnavailable.Error(), *final.Result)
}

func TestProcess_TerminalTaskIsDropped(t *testing.T) {
	st := newRecordingStore()
	eng := &scriptedEngine{fragments: diagramFragments()}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	require.NoError(t, w.Process(context.Background(), job))
	before, _ := st.Get(context.Background(), "t1")
	n := len(st.snapshots())

	require.NoError(t, w.Process(context.Background(), job))

	after, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, before, after)
	assert.Len(t, st.snapshots(), n)
}

func TestProcess_UnknownTask(t *testing.T) {
	w := newTestWorker(t, newRecordingStore(), &scriptedEngine{})

	err := w.Process(context.Background(), model.Job{TaskID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_StoreWriteFailureAbortsJob(t *testing.T) {
	st := newRecordingStore()
	st.failAfter = 2
	eng := &scriptedEngine{fragments: diagramFragments()}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	err := w.Process(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	final, _ := st.MemoryStore.Get(context.Background(), "t1")
	assert.Equal(t, model.StatusProgress, final.Status)
	assert.Nil(t, final.Result)
}

func TestProcess_CancelledMidGeneration(t *testing.T) {
	st := newRecordingStore()
	eng := &scriptedEngine{
		fragments: diagramFragments(),
		gate:      make(chan struct{}),
		started:   make(chan struct{}),
	}
	w := newTestWorker(t, st, eng)
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Process(ctx, job) }()

	select {
	case <-eng.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}

	final, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, model.StatusFailure, final.Status)
	assert.True(t, strings.HasPrefix(*final.Result, "generation cancelled"), *final.Result)
}

func TestProcess_RedeliveryKeepsPercent(t *testing.T) {
	st := newRecordingStore()
	job := submit(t, st, "t1", model.Input{Text: "x", Mode: model.ModeGenerate})

	// a previous consumer got to 60% before dying
	_, err := st.MemoryStore.Update(context.Background(), "t1", func(task model.Task) (model.Task, error) {
		claimed, err := task.Claim("dead-worker", time.Now())
		if err != nil {
			return task, err
		}
		return claimed.Advance("dead-worker", model.Progress{Percent: 60}, time.Now())
	})
	require.NoError(t, err)

	w := newTestWorker(t, st, &scriptedEngine{fragments: diagramFragments()})
	require.NoError(t, w.Process(context.Background(), job))

	for _, snap := range st.snapshots() {
		assert.GreaterOrEqual(t, snap.Percent, 60)
	}
	final, _ := st.Get(context.Background(), "t1")
	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Equal(t, 2, final.Attempt)

	_, err = st.Update(context.Background(), "t1", func(task model.Task) (model.Task, error) {
		return task.Advance("dead-worker", model.Progress{Percent: 70}, time.Now())
	})
	assert.ErrorIs(t, err, model.ErrTerminal)
}
