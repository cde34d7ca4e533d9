package eventloop

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryguy/prerender/internal/core"
)

// pollInterval bounds how long Drain sleeps while fetches are in flight.
const pollInterval = time.Millisecond

// minInterval is the smallest period accepted for setInterval.
const minInterval = 10 * time.Millisecond

// FetchResult holds the pre-serialized outcome of an in-flight HTTP fetch.
// The fetch goroutine encodes the body as base64 so the event loop only
// passes strings to JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyB64     string
	FinalURL    string
	Err         error
}

// PendingFetch is an in-flight request whose result is delivered to JS
// on the next drain after it arrives.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// timer tracks scheduling metadata only; the callback itself lives in
// globalThis.__timerCallbacks[id].
type timer struct {
	id       int
	due      time.Time
	interval time.Duration // 0 for setTimeout
}

// EventLoop owns Go-backed timers and pending fetches for one VM.
// Drain must run on the VM's goroutine; registration may come from
// Go callbacks invoked by JS on that same goroutine.
type EventLoop struct {
	mu      sync.Mutex
	timers  map[int]*timer
	nextID  int
	fetches []*PendingFetch
}

// New creates an empty EventLoop.
func New() *EventLoop {
	return &EventLoop{timers: make(map[int]*timer)}
}

// RegisterTimer schedules a timer and returns its id.
func (el *EventLoop) RegisterTimer(delay time.Duration, repeat bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	t := &timer{id: el.nextID, due: time.Now().Add(delay)}
	if repeat {
		t.interval = max(delay, minInterval)
	}
	el.timers[t.id] = t
	return t.id
}

// ClearTimer cancels a timer. Unknown ids are ignored.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	delete(el.timers, id)
	el.mu.Unlock()
}

// AddPendingFetch registers a fetch whose result will be handed to JS.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	el.fetches = append(el.fetches, pf)
	el.mu.Unlock()
}

// DrainPendingFetches delivers every fetch that has completed and
// reports whether any did.
func (el *EventLoop) DrainPendingFetches(rt core.JSRuntime) bool {
	el.mu.Lock()
	pending := el.fetches
	el.fetches = nil
	el.mu.Unlock()
	if len(pending) == 0 {
		return false
	}

	var waiting []*PendingFetch
	delivered := false
	for _, pf := range pending {
		select {
		case res := <-pf.ResultCh:
			deliverFetch(rt, pf.FetchID, res)
			rt.RunMicrotasks()
			delivered = true
		default:
			waiting = append(waiting, pf)
		}
	}

	el.mu.Lock()
	// Callbacks may have started new fetches while we were delivering.
	el.fetches = append(waiting, el.fetches...)
	el.mu.Unlock()
	return delivered
}

func deliverFetch(rt core.JSRuntime, id string, res FetchResult) {
	if res.Err != nil {
		_ = rt.Eval(fmt.Sprintf(`globalThis.__fetchReject(%q, %q)`, id, res.Err.Error()))
		return
	}
	_ = rt.Eval(fmt.Sprintf(`globalThis.__fetchResolve(%q, %d, %q, %q, %q, %q)`,
		id, res.Status, res.StatusText, res.HeadersJSON, res.BodyB64, res.FinalURL))
}

// fireDue runs every timer whose deadline has passed, earliest first.
func (el *EventLoop) fireDue(rt core.JSRuntime, now time.Time) bool {
	el.mu.Lock()
	var due []*timer
	for _, t := range el.timers {
		if !t.due.After(now) {
			due = append(due, t)
		}
	}
	el.mu.Unlock()
	if len(due) == 0 {
		return false
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})

	for _, t := range due {
		el.mu.Lock()
		_, live := el.timers[t.id]
		if live {
			if t.interval > 0 {
				t.due = now.Add(t.interval)
			} else {
				delete(el.timers, t.id)
			}
		}
		el.mu.Unlock()
		if !live {
			continue
		}
		_ = rt.Eval(fmt.Sprintf(`(function() {
			var entry = globalThis.__timerCallbacks[%d];
			if (!entry) return;
			if (!entry.interval) delete globalThis.__timerCallbacks[%d];
			entry.fn.apply(null, entry.args || []);
		})()`, t.id, t.id))
		rt.RunMicrotasks()
	}
	return true
}

// nextWake returns when the loop next has work, or false if idle.
func (el *EventLoop) nextWake(now time.Time) (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var wake time.Time
	found := false
	for _, t := range el.timers {
		if !found || t.due.Before(wake) {
			wake, found = t.due, true
		}
	}
	if len(el.fetches) > 0 {
		poll := now.Add(pollInterval)
		if !found || poll.Before(wake) {
			wake, found = poll, true
		}
	}
	return wake, found
}

// Drain runs timers and delivers fetches until nothing is pending or
// the deadline passes.
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) {
	for {
		worked := el.DrainPendingFetches(rt)
		if el.fireDue(rt, time.Now()) {
			worked = true
		}
		if worked {
			continue
		}
		now := time.Now()
		wake, ok := el.nextWake(now)
		if !ok || !now.Before(deadline) {
			return
		}
		if wake.After(deadline) {
			wake = deadline
		}
		if d := wake.Sub(now); d > 0 {
			time.Sleep(d)
		}
	}
}

// HasPending reports whether any timer or fetch is outstanding.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.fetches) > 0
}

// Reset drops all timers and fetches. Called between render tasks.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timer)
	el.nextID = 0
	el.fetches = nil
}
