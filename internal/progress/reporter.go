package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mediarelay/fetchbot/internal/metrics"
	"github.com/mediarelay/fetchbot/internal/notify"
)

// Update is one progress observation for a task. A negative Fraction
// renders without a bar. Force bypasses the interval throttle; stage
// changes and terminal updates use it. Identical text is never re-sent.
type Update struct {
	TaskID   string
	Stage    string
	Fraction float64
	Rate     string
	ETA      string
	Elapsed  string
	Force    bool
}

type eventKind int

const (
	evBegin eventKind = iota
	evUpdate
	evFinalize
)

type event struct {
	kind   eventKind
	taskID string
	chatID int64
	update Update
}

type tracker struct {
	chatID   int64
	ref      notify.MessageRef
	haveRef  bool
	lastText string
	limiter  *rate.Limiter
}

// Reporter converts raw progress callbacks into throttled status-message
// edits. All chat traffic goes through a single consumer goroutine, so
// fetcher callbacks never touch the notifier from their own goroutine.
type Reporter struct {
	notifier notify.Notifier
	logger   *zap.Logger
	interval time.Duration
	events   chan event
	done     chan struct{}
	trackers map[string]*tracker
	now      func() time.Time
}

func NewReporter(notifier notify.Notifier, interval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		notifier: notifier,
		logger:   logger.With(zap.String("component", "progress")),
		interval: interval,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		trackers: make(map[string]*tracker),
		now:      time.Now,
	}
}

// Start runs the consumer loop until ctx is canceled.
func (r *Reporter) Start(ctx context.Context) {
	r.logger.Info("Progress reporter started")
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Progress reporter stopping")
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

// Begin starts tracking a task and sends its first status message.
func (r *Reporter) Begin(taskID string, chatID int64, stage string) {
	r.enqueueBlocking(event{kind: evBegin, taskID: taskID, chatID: chatID, update: Update{Stage: stage, Fraction: -1}})
}

// Report submits a progress observation. Throttleable updates are dropped
// when the reporter is saturated; forced ones wait for room.
func (r *Reporter) Report(u Update) {
	ev := event{kind: evUpdate, taskID: u.TaskID, update: u}
	if u.Force {
		r.enqueueBlocking(ev)
		return
	}
	select {
	case r.events <- ev:
	default:
		metrics.ProgressUpdates.WithLabelValues("dropped").Inc()
	}
}

// Finalize deletes the task's status message and forgets the task.
func (r *Reporter) Finalize(taskID string) {
	r.enqueueBlocking(event{kind: evFinalize, taskID: taskID})
}

func (r *Reporter) enqueueBlocking(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Reporter) handle(ev event) {
	switch ev.kind {
	case evBegin:
		tr := &tracker{
			chatID:  ev.chatID,
			limiter: rate.NewLimiter(rate.Every(r.interval), 1),
		}
		text := Render(r.now(), ev.update.Stage, -1, "", "", "")
		ref, err := r.notifier.SendStatus(ev.chatID, text)
		if err != nil {
			r.logger.Error("Failed to send initial status", zap.String("task_id", ev.taskID), zap.Error(err))
		} else {
			tr.ref = ref
			tr.haveRef = true
			tr.lastText = text
		}
		r.trackers[ev.taskID] = tr

	case evUpdate:
		tr, ok := r.trackers[ev.taskID]
		if !ok || !tr.haveRef {
			return
		}
		u := ev.update
		text := Render(r.now(), u.Stage, u.Fraction, u.Rate, u.ETA, u.Elapsed)
		if text == tr.lastText {
			return
		}
		if !u.Force && !tr.limiter.Allow() {
			return
		}
		tr.lastText = text
		if err := r.notifier.EditStatus(tr.ref, text); err != nil {
			r.logger.Warn("Failed to edit status", zap.String("task_id", ev.taskID), zap.Error(err))
		} else {
			metrics.ProgressUpdates.WithLabelValues("sent").Inc()
		}

	case evFinalize:
		tr, ok := r.trackers[ev.taskID]
		if !ok {
			return
		}
		if tr.haveRef {
			r.notifier.DeleteStatus(tr.ref)
		}
		delete(r.trackers, ev.taskID)
	}
}
