package eventloop

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRuntime records every script handed to Eval.
type recordingRuntime struct {
	mu    sync.Mutex
	evals []string
}

func (r *recordingRuntime) Eval(js string) error {
	r.mu.Lock()
	r.evals = append(r.evals, js)
	r.mu.Unlock()
	return nil
}
func (r *recordingRuntime) EvalString(string) (string, error) { return "", nil }
func (r *recordingRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (r *recordingRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (r *recordingRuntime) RegisterFunc(string, any) error    { return nil }
func (r *recordingRuntime) SetGlobal(string, any) error       { return nil }
func (r *recordingRuntime) RunMicrotasks()                    {}

func (r *recordingRuntime) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evals {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

func TestDrainFiresTimersInOrder(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	late := el.RegisterTimer(20*time.Millisecond, false)
	early := el.RegisterTimer(0, false)

	el.Drain(rt, time.Now().Add(time.Second))

	require.Len(t, rt.evals, 2)
	assert.Contains(t, rt.evals[0], "__timerCallbacks["+strconv.Itoa(early)+"]")
	assert.Contains(t, rt.evals[1], "__timerCallbacks["+strconv.Itoa(late)+"]")
	assert.False(t, el.HasPending())
}

func TestClearTimerPreventsFire(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	id := el.RegisterTimer(time.Millisecond, false)
	el.ClearTimer(id)

	el.Drain(rt, time.Now().Add(50*time.Millisecond))
	assert.Empty(t, rt.evals)
}

func TestDrainStopsAtDeadlineWithInterval(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(10*time.Millisecond, true)

	start := time.Now()
	el.Drain(rt, start.Add(55*time.Millisecond))

	assert.True(t, el.HasPending(), "interval stays registered")
	assert.GreaterOrEqual(t, rt.count("__timerCallbacks"), 2)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDrainDeliversFetches(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	ok := make(chan FetchResult, 1)
	failed := make(chan FetchResult, 1)
	el.AddPendingFetch(&PendingFetch{ResultCh: ok, FetchID: "f1"})
	el.AddPendingFetch(&PendingFetch{ResultCh: failed, FetchID: "f2"})

	go func() {
		time.Sleep(5 * time.Millisecond)
		ok <- FetchResult{Status: 200, StatusText: "200 OK", HeadersJSON: "{}"}
		failed <- FetchResult{Err: errors.New("boom")}
	}()

	el.Drain(rt, time.Now().Add(time.Second))

	assert.Equal(t, 1, rt.count(`__fetchResolve("f1", 200`))
	assert.Equal(t, 1, rt.count(`__fetchReject("f2", "boom")`))
	assert.False(t, el.HasPending())
}

func TestReset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Hour, true)
	el.AddPendingFetch(&PendingFetch{ResultCh: make(chan FetchResult), FetchID: "x"})
	require.True(t, el.HasPending())

	el.Reset()
	assert.False(t, el.HasPending())
	assert.Equal(t, 1, el.RegisterTimer(0, false), "ids restart after reset")
}
