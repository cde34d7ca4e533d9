package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalRoundTrip(t *testing.T) {
	vm, err := New(0)
	require.NoError(t, err)
	defer vm.Close()

	require.NoError(t, vm.SetGlobal("route", "/about"))
	s, err := vm.EvalString("route + '/index.html'")
	require.NoError(t, err)
	assert.Equal(t, "/about/index.html", s)

	n, err := vm.EvalInt("6 * 7")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	b, err := vm.EvalBool("typeof route === 'string'")
	require.NoError(t, err)
	assert.True(t, b)
}

func TestRegisterFuncErrorThrows(t *testing.T) {
	vm, err := New(0)
	require.NoError(t, err)
	defer vm.Close()

	require.NoError(t, vm.RegisterFunc("lookup", func(name string) (string, error) {
		if name == "" {
			return "", errors.New("empty name")
		}
		return "found " + name, nil
	}))

	s, err := vm.EvalString("lookup('x')")
	require.NoError(t, err)
	assert.Equal(t, "found x", s)

	s, err = vm.EvalString("(function(){ try { lookup(''); return 'no throw'; } catch (e) { return String(e.message); } })()")
	require.NoError(t, err)
	assert.Contains(t, s, "empty name")
}

func TestMicrotasks(t *testing.T) {
	vm, err := New(0)
	require.NoError(t, err)
	defer vm.Close()

	require.NoError(t, vm.Eval("globalThis.v = 0; Promise.resolve().then(function() { globalThis.v = 1; });"))
	vm.RunMicrotasks()
	n, err := vm.EvalInt("v")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInterruptStopsRunawayScript(t *testing.T) {
	vm, err := New(0)
	require.NoError(t, err)
	defer vm.Close()

	watchdog := time.AfterFunc(50*time.Millisecond, vm.Interrupt)
	defer watchdog.Stop()

	start := time.Now()
	err = vm.Eval("for (;;) {}")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
