package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/notify"
	"github.com/mediarelay/fetchbot/internal/store"
)

type fakeRunner struct {
	mu          sync.Mutex
	order       []string
	running     int
	maxRunning  int
	ownerActive map[int64]int
	overlapped  bool
	delay       time.Duration
	blockURL    string
	blockCh     chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ownerActive: make(map[int64]int)}
}

func (f *fakeRunner) Run(ctx context.Context, task *model.Task) error {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.ownerActive[task.OwnerID]++
	if f.ownerActive[task.OwnerID] > 1 {
		f.overlapped = true
	}
	f.order = append(f.order, task.Spec.SourceURL)
	blocked := f.blockURL != "" && f.blockURL == task.Spec.SourceURL
	f.mu.Unlock()

	if blocked {
		<-f.blockCh
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.running--
	f.ownerActive[task.OwnerID]--
	f.mu.Unlock()

	task.State = model.StateDone
	return nil
}

func (f *fakeRunner) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type silentNotifier struct {
	mu      sync.Mutex
	results []string
}

func (n *silentNotifier) SendStatus(chatID int64, text string) (notify.MessageRef, error) {
	return notify.MessageRef{}, nil
}
func (n *silentNotifier) EditStatus(ref notify.MessageRef, text string) error { return nil }
func (n *silentNotifier) DeleteStatus(ref notify.MessageRef)                  {}
func (n *silentNotifier) SendDocument(chatID int64, path, name string) error  { return nil }

func (n *silentNotifier) SendResult(chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, text)
}

func testConfig(capacity int) *config.Config {
	return &config.Config{
		MaxConcurrentFetches: capacity,
		TaskPauseSec:         0,
	}
}

func newTestScheduler(t *testing.T, capacity int, runner Runner) (*Scheduler, store.Store) {
	t.Helper()

	st, err := store.Open("json", filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := New(testConfig(capacity), st, runner, &silentNotifier{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s, st
}

func videoSpec(url string) model.TaskSpec {
	return model.TaskSpec{SourceURL: url, Kind: model.KindVideo, Quality: "720"}
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	runner := newFakeRunner()
	s, st := newTestScheduler(t, 2, runner)

	_, _, err := s.Submit(10, model.TaskSpec{SourceURL: "", Kind: model.KindVideo})
	require.ErrorIs(t, err, ErrInvalidSpec)

	_, _, err = s.Submit(10, model.TaskSpec{SourceURL: "https://example.com/x", Kind: "gif"})
	require.ErrorIs(t, err, ErrInvalidSpec)

	// Nothing persisted, nothing run.
	queues, err := st.Load()
	require.NoError(t, err)
	require.Empty(t, queues)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, runner.ran())
}

func TestSubmitBeforeStart(t *testing.T) {
	st, err := store.Open("json", filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	defer st.Close()

	s := New(testConfig(1), st, newFakeRunner(), &silentNotifier{}, zap.NewNop())
	_, _, err = s.Submit(10, videoSpec("https://example.com/x"))
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestPerOwnerOrderingAndExclusivity(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 10 * time.Millisecond
	s, _ := newTestScheduler(t, 3, runner)

	urls := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}
	for i, u := range urls {
		_, pos, err := s.Submit(10, videoSpec(u))
		require.NoError(t, err)
		require.Equal(t, i+1, pos)
	}

	require.Eventually(t, func() bool {
		return len(runner.ran()) == 3
	}, 3*time.Second, 5*time.Millisecond)

	require.Equal(t, urls, runner.ran(), "single owner's tasks must run in submission order")
	require.False(t, runner.overlapped, "single owner's tasks must never overlap")
}

func TestGlobalCapacityCeiling(t *testing.T) {
	const capacity = 2
	runner := newFakeRunner()
	runner.delay = 15 * time.Millisecond
	s, _ := newTestScheduler(t, capacity, runner)

	var submitters sync.WaitGroup
	for owner := int64(1); owner <= 8; owner++ {
		submitters.Add(1)
		go func(owner int64) {
			defer submitters.Done()
			for i := 0; i < 2; i++ {
				_, _, err := s.Submit(owner, videoSpec("https://example.com/x"))
				assert.NoError(t, err)
			}
		}(owner)
	}
	submitters.Wait()

	require.Eventually(t, func() bool {
		return len(runner.ran()) == 16
	}, 5*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.LessOrEqual(t, runner.maxRunning, capacity,
		"concurrent executions must never exceed the pool capacity")
	require.False(t, runner.overlapped)
}

func TestCancelClearsOnlyQueuedTasksOfThatOwner(t *testing.T) {
	runner := newFakeRunner()
	runner.blockURL = "https://example.com/a1"
	runner.blockCh = make(chan struct{})
	s, st := newTestScheduler(t, 2, runner)

	// Owner A: one running (blocked), two queued behind it.
	_, _, err := s.Submit(1, videoSpec("https://example.com/a1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(runner.ran()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Submit(1, videoSpec("https://example.com/a2"))
	s.Submit(1, videoSpec("https://example.com/a3"))

	// Owner B: one queued.
	s.Submit(2, videoSpec("https://example.com/b1"))

	cleared, err := s.Cancel(1)
	require.NoError(t, err)
	require.Equal(t, 2, cleared, "only queued tasks are cancellable")

	// Owner B continues, owner A's queued tasks are gone.
	require.Eventually(t, func() bool {
		for _, u := range runner.ran() {
			if u == "https://example.com/b1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	queues, err := st.Load()
	require.NoError(t, err)
	require.Empty(t, queues[1], "cancelled tasks must leave the snapshot")

	// Unblock the in-flight task; it runs to completion.
	close(runner.blockCh)
	require.Eventually(t, func() bool {
		return len(runner.ran()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	for _, u := range runner.ran() {
		require.NotContains(t, []string{"https://example.com/a2", "https://example.com/a3"}, u)
	}
}

func TestCancelEmptyQueue(t *testing.T) {
	s, _ := newTestScheduler(t, 1, newFakeRunner())

	cleared, err := s.Cancel(99)
	require.NoError(t, err)
	require.Zero(t, cleared)
}

func TestSnapshotFollowsAdmission(t *testing.T) {
	runner := newFakeRunner()
	runner.blockURL = "https://example.com/1"
	runner.blockCh = make(chan struct{})
	s, st := newTestScheduler(t, 1, runner)

	s.Submit(10, videoSpec("https://example.com/1"))
	s.Submit(10, videoSpec("https://example.com/2"))

	// First task admitted (and blocked): it must already be out of the
	// snapshot while the waiting task is still in it.
	require.Eventually(t, func() bool {
		return len(runner.ran()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	queues, err := st.Load()
	require.NoError(t, err)
	require.Len(t, queues[10], 1)
	require.Equal(t, "https://example.com/2", queues[10][0].Spec.SourceURL)

	close(runner.blockCh)
	require.Eventually(t, func() bool {
		return len(runner.ran()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		queues, err := st.Load()
		return err == nil && len(queues) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestResumeRestartsQueues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	// Seed the snapshot as a previous process would have left it.
	seed, err := store.Open("json", path)
	require.NoError(t, err)
	for _, u := range []string{"https://example.com/1", "https://example.com/2"} {
		require.NoError(t, seed.Append(model.Task{
			ID: "seed-" + u[len(u)-1:], OwnerID: 10,
			Spec: videoSpec(u), State: model.StateQueued, CreatedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, seed.Append(model.Task{
		ID: "seed-b", OwnerID: 20,
		Spec: videoSpec("https://example.com/b"), State: model.StateQueued, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, seed.Close())

	st, err := store.Open("json", path)
	require.NoError(t, err)
	defer st.Close()

	runner := newFakeRunner()
	s := New(testConfig(2), st, runner, &silentNotifier{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	restored, err := s.Resume()
	require.NoError(t, err)
	require.Equal(t, 3, restored)

	require.Eventually(t, func() bool {
		return len(runner.ran()) == 3
	}, 3*time.Second, 5*time.Millisecond)

	// Owner 10's order survived the restart.
	var owner10 []string
	for _, u := range runner.ran() {
		if u != "https://example.com/b" {
			owner10 = append(owner10, u)
		}
	}
	require.Equal(t, []string{"https://example.com/1", "https://example.com/2"}, owner10)
}

type panickyRunner struct {
	mu    sync.Mutex
	calls []string
}

func (p *panickyRunner) Run(ctx context.Context, task *model.Task) error {
	p.mu.Lock()
	p.calls = append(p.calls, task.Spec.SourceURL)
	n := len(p.calls)
	p.mu.Unlock()
	if n == 1 {
		panic("pipeline blew up")
	}
	return nil
}

func TestPanicReleasesSlotAndLoopSurvives(t *testing.T) {
	runner := &panickyRunner{}
	st, err := store.Open("json", filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	defer st.Close()

	nf := &silentNotifier{}
	s := New(testConfig(1), st, runner, nf, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	s.Submit(10, videoSpec("https://example.com/boom"))
	s.Submit(10, videoSpec("https://example.com/next"))

	// With capacity 1, the second task can only run if the panicked
	// task's slot was released.
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.calls) == 2
	}, 3*time.Second, 5*time.Millisecond)

	nf.mu.Lock()
	defer nf.mu.Unlock()
	require.NotEmpty(t, nf.results, "owner must hear about the internal failure")
}

func TestShutdownStopsAdmission(t *testing.T) {
	runner := newFakeRunner()
	runner.blockURL = "https://example.com/hold"
	runner.blockCh = make(chan struct{})

	st, err := store.Open("json", filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	defer st.Close()

	s := New(testConfig(1), st, runner, &silentNotifier{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	s.Submit(7, videoSpec("https://example.com/hold"))
	s.Submit(7, videoSpec("https://example.com/q1"))
	s.Submit(7, videoSpec("https://example.com/q2"))

	require.Eventually(t, func() bool {
		return len(runner.ran()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Stop while the head task holds the only slot, then let it finish.
	cancel()
	close(runner.blockCh)
	s.Wait()

	require.Equal(t, []string{"https://example.com/hold"}, runner.ran(),
		"no task may be admitted once shutdown begins")

	queues, err := st.Load()
	require.NoError(t, err)
	require.Len(t, queues[7], 2, "waiting tasks must stay persisted through shutdown")
}

func TestStats(t *testing.T) {
	runner := newFakeRunner()
	runner.blockURL = "https://example.com/1"
	runner.blockCh = make(chan struct{})
	s, _ := newTestScheduler(t, 2, runner)

	s.Submit(10, videoSpec("https://example.com/1"))
	s.Submit(10, videoSpec("https://example.com/2"))

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.ActiveSlots == 1 && st.QueuedTasks == 1
	}, 2*time.Second, 5*time.Millisecond)

	st := s.Stats()
	require.Equal(t, 2, st.Capacity)
	require.Equal(t, 1, st.Owners)

	close(runner.blockCh)
}
