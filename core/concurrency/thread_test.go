// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package concurrency_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
	"github.com/momentics/hioload-daq/core/concurrency"
)

// handler implements every optional capability through function fields.
type handler struct {
	onEvent   func(concurrency.Event)
	onCommand func(*command.Command) api.Outcome
	onTimeout func(float64) float64
	assigned  atomic.Bool
	halted    atomic.Bool
}

func (h *handler) ProcessEvent(ev concurrency.Event) {
	if h.onEvent != nil {
		h.onEvent(ev)
	}
}

func (h *handler) ExecuteCommand(cmd *command.Command) api.Outcome {
	if h.onCommand != nil {
		return h.onCommand(cmd)
	}
	return api.OutcomeTrue
}

func (h *handler) ProcessTimeout(last float64) float64 {
	if h.onTimeout != nil {
		return h.onTimeout(last)
	}
	return -1
}

func (h *handler) OnThreadAssigned() { h.assigned.Store(true) }
func (h *handler) OnHalt()           { h.halted.Store(true) }

func startThread(t *testing.T, name string) *concurrency.Thread {
	t.Helper()
	th := concurrency.NewThread(name)
	require.NoError(t, th.Start())
	t.Cleanup(func() { _ = th.Stop(time.Second) })
	return th
}

func TestPriorityOrdering(t *testing.T) {
	th := concurrency.NewThread("prio")
	got := make(chan int, 16)
	w := concurrency.NewWorker("w", concurrency.EventFunc(func(ev concurrency.Event) {
		got <- ev.Code
	}))
	require.NoError(t, w.AssignToThread(th, false))

	assert.True(t, w.FireEvent(1, nil, concurrency.PriorityMinimum))
	assert.True(t, w.FireEvent(2, nil, concurrency.PriorityDefault))
	assert.True(t, w.FireEvent(3, nil, concurrency.PriorityMaximum))
	assert.True(t, w.FireEvent(4, nil, concurrency.PriorityMinimum))
	assert.True(t, w.FireEvent(5, nil, concurrency.PriorityMaximum))
	assert.True(t, w.Fire(6, nil))

	require.NoError(t, th.Start())
	defer th.Stop(time.Second)

	var order []int
	for i := 0; i < 6; i++ {
		select {
		case c := <-got:
			order = append(order, c)
		case <-time.After(time.Second):
			t.Fatalf("only %d events dispatched", i)
		}
	}
	assert.Equal(t, []int{3, 5, 2, 6, 1, 4}, order)
}

func TestPriorityOrderingAcrossAllLevels(t *testing.T) {
	th := concurrency.NewThread("levels")
	got := make(chan int, 8)
	w := concurrency.NewWorker("w", concurrency.EventFunc(func(ev concurrency.Event) {
		got <- ev.Code
	}))
	require.NoError(t, w.AssignToThread(th, false))

	for p := concurrency.PriorityMinimum; p >= concurrency.PriorityMagic; p-- {
		require.True(t, w.FireEvent(p, nil, p))
	}
	require.NoError(t, th.Start())
	defer th.Stop(time.Second)

	var order []int
	for i := 0; i < 4; i++ {
		select {
		case c := <-got:
			order = append(order, c)
		case <-time.After(time.Second):
			t.Fatalf("only %d events dispatched", i)
		}
	}
	assert.Equal(t, []int{concurrency.PriorityMagic, concurrency.PriorityMaximum,
		concurrency.PriorityDefault, concurrency.PriorityMinimum}, order)
}

func TestOutOfRangePriorityRefused(t *testing.T) {
	th := concurrency.NewThread("range")
	w := concurrency.NewWorker("w", &handler{})
	require.NoError(t, w.AssignToThread(th, false))
	queued := th.QueueLen()

	assert.False(t, w.FireEvent(1, nil, 5))
	assert.False(t, w.FireEvent(1, nil, concurrency.PriorityMagic-1))
	assert.Equal(t, queued, th.QueueLen(), "refused events leave no trace")

	cmd := command.New("x").SetPriority(3)
	assert.ErrorIs(t, w.Submit(cmd), concurrency.ErrInvalidPriority)
	assert.True(t, cmd.Completed())
	assert.Equal(t, queued, th.QueueLen())

	low := concurrency.NewWorker("low", &handler{}, concurrency.WithPriority(9))
	require.NoError(t, low.AssignToThread(th, false))
	assert.False(t, low.Fire(1, nil))
	require.NoError(t, th.Stop(time.Second))
}

func TestFireEventRequiresActiveWorker(t *testing.T) {
	w := concurrency.NewWorker("idle", nil)
	assert.False(t, w.FireEvent(1, nil, concurrency.PriorityDefault))
	assert.Equal(t, concurrency.WorkerInactive, w.State())
	assert.Nil(t, w.Thread())

	cmd := command.New("x")
	err := w.Submit(cmd)
	assert.ErrorIs(t, err, concurrency.ErrWorkerInactive)
	assert.True(t, cmd.Completed())
}

func TestAssignSyncRunsHook(t *testing.T) {
	th := startThread(t, "assign")
	h := &handler{}
	w := concurrency.NewWorker("w", h)

	require.NoError(t, w.AssignToThread(th, true))
	assert.True(t, h.assigned.Load())
	assert.True(t, w.IsActive())
	assert.NotZero(t, w.ID())
	assert.Equal(t, 1, th.NumWorkers())

	assert.ErrorIs(t, w.AssignToThread(th, false), concurrency.ErrWorkerAssigned)
}

func TestExecuteReply(t *testing.T) {
	th := startThread(t, "exec")
	h := &handler{onCommand: func(cmd *command.Command) api.Outcome {
		n, err := cmd.GetInt("in", 0)
		if err != nil {
			return api.OutcomeFalse
		}
		cmd.SetInt("out", n*2)
		return api.OutcomeTrue
	}}
	w := concurrency.NewWorker("doubler", h)
	require.NoError(t, w.AssignToThread(th, true))

	cmd := command.New("Double").SetInt("in", 21)
	require.NoError(t, w.Execute(cmd, time.Second))
	out, err := cmd.GetInt("out", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)

	bad := command.New("Double").SetString("in", "x")
	assert.ErrorIs(t, w.Execute(bad, time.Second), api.ErrCommandFailed)
}

func TestExecuteWithoutCommandHandler(t *testing.T) {
	th := startThread(t, "nocmd")
	w := concurrency.NewWorker("events-only", concurrency.EventFunc(func(concurrency.Event) {}))
	require.NoError(t, w.AssignToThread(th, true))
	assert.ErrorIs(t, w.Execute(command.New("x"), time.Second), api.ErrNotSupported)
}

func TestExecuteTimeout(t *testing.T) {
	th := startThread(t, "timeout")
	held := make(chan *command.Command, 1)
	w := concurrency.NewWorker("sink", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		held <- cmd
		return api.OutcomePending
	}})
	require.NoError(t, w.AssignToThread(th, true))

	const timeout = 50 * time.Millisecond
	cmd := command.New("NeverReplied")
	start := time.Now()
	err := w.Execute(cmd, timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, api.IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*time.Second)

	late := <-held
	assert.False(t, late.Reply(true), "late reply must be dropped")
	assert.True(t, api.IsTimeout(cmd.Err()))
}

func TestExecuteUsesCommandTimeout(t *testing.T) {
	th := startThread(t, "cmdtimeout")
	w := concurrency.NewWorker("sink", &handler{onCommand: func(*command.Command) api.Outcome {
		return api.OutcomePending
	}})
	require.NoError(t, w.AssignToThread(th, true))

	cmd := command.New("x").SetTimeout(20 * time.Millisecond)
	assert.True(t, api.IsTimeout(w.Execute(cmd, 0)))
}

func TestPostponedReplyFromOtherGoroutine(t *testing.T) {
	th := startThread(t, "postponed")
	w := concurrency.NewWorker("async", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		go func() {
			time.Sleep(10 * time.Millisecond)
			cmd.Reply(true)
		}()
		return api.OutcomePending
	}})
	require.NoError(t, w.AssignToThread(th, true))
	assert.NoError(t, w.Execute(command.New("later"), time.Second))
}

func TestExecuteFromOwnLoopRejectsBlockingWait(t *testing.T) {
	th := startThread(t, "deadlock")
	var inner error
	var w *concurrency.Worker
	w = concurrency.NewWorker("self", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		if cmd.Name() == "outer" {
			inner = w.Execute(command.New("inner"), time.Second)
		}
		return api.OutcomeTrue
	}})
	require.NoError(t, w.AssignToThread(th, true))
	require.NoError(t, w.Execute(command.New("outer"), time.Second))
	assert.ErrorIs(t, inner, concurrency.ErrWouldDeadlock)
}

func TestExecuteFromKeepsLoopServing(t *testing.T) {
	th := startThread(t, "coop")

	var events atomic.Int32
	observer := concurrency.NewWorker("observer", concurrency.EventFunc(func(concurrency.Event) {
		events.Add(1)
	}))
	require.NoError(t, observer.AssignToThread(th, true))

	target := concurrency.NewWorker("target", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		cmd.SetString("by", "target")
		return api.OutcomeTrue
	}})
	require.NoError(t, target.AssignToThread(th, true))

	slow := concurrency.NewWorker("slow", &handler{onCommand: func(*command.Command) api.Outcome {
		return api.OutcomePending
	}})
	require.NoError(t, slow.AssignToThread(th, true))

	var nested, timedOut error
	var innerBy string
	var caller *concurrency.Worker
	caller = concurrency.NewWorker("caller", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		inner := command.New("Who")
		nested = target.ExecuteFrom(caller, inner, time.Second)
		innerBy, _ = inner.GetString("by", "")

		observer.Fire(1, nil)
		timedOut = slow.ExecuteFrom(caller, command.New("Slow"), 30*time.Millisecond)
		return api.OutcomeTrue
	}})
	require.NoError(t, caller.AssignToThread(th, true))

	require.NoError(t, caller.Execute(command.New("Run"), 2*time.Second))
	assert.NoError(t, nested)
	assert.Equal(t, "target", innerBy)
	assert.True(t, api.IsTimeout(timedOut))
	assert.EqualValues(t, 1, events.Load(), "observer event dispatched while caller waited")
}

func TestExecuteDepthBounded(t *testing.T) {
	th := startThread(t, "depth")
	var depthErrs atomic.Int32
	var calls atomic.Int32
	var w *concurrency.Worker
	w = concurrency.NewWorker("recursive", &handler{onCommand: func(*command.Command) api.Outcome {
		calls.Add(1)
		err := w.ExecuteFrom(w, command.New("again"), time.Second)
		if errors.Is(err, concurrency.ErrExecuteDepth) {
			depthErrs.Add(1)
		}
		return api.OutcomeOf(err == nil)
	}})
	require.NoError(t, w.AssignToThread(th, true))

	err := w.Execute(command.New("start"), 2*time.Second)
	assert.ErrorIs(t, err, api.ErrCommandFailed)
	assert.EqualValues(t, 1, depthErrs.Load())
	assert.EqualValues(t, concurrency.MaxExecuteDepth+1, calls.Load())
}

func TestActivateTimeoutRepeatsUntilNegative(t *testing.T) {
	th := startThread(t, "timer")
	var fired atomic.Int32
	var lastSeen atomic.Value
	h := &handler{onTimeout: func(last float64) float64 {
		lastSeen.Store(last)
		if fired.Add(1) >= 3 {
			return -1
		}
		return 0.01
	}}
	w := concurrency.NewWorker("ticker", h)
	require.NoError(t, w.AssignToThread(th, true))

	require.True(t, w.ActivateTimeout(0))
	assert.Eventually(t, func() bool { return fired.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, fired.Load())
	assert.GreaterOrEqual(t, lastSeen.Load().(float64), 0.0)
	assert.GreaterOrEqual(t, th.Stats().Timeouts, uint64(3))
}

func TestActivateTimeoutCancel(t *testing.T) {
	th := startThread(t, "cancel")
	var fired atomic.Int32
	w := concurrency.NewWorker("w", &handler{onTimeout: func(float64) float64 {
		fired.Add(1)
		return -1
	}})
	require.NoError(t, w.AssignToThread(th, true))

	require.True(t, w.ActivateTimeout(0.03))
	require.True(t, w.ActivateTimeout(-1))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())

	// re-arming replaces the previous schedule
	require.True(t, w.ActivateTimeout(10))
	require.True(t, w.ActivateTimeout(0.01))
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, concurrency.NewWorker("inactive", nil).ActivateTimeout(0))
}

func TestHaltDrainsQueuedEvents(t *testing.T) {
	th := concurrency.NewThread("halt")
	var mu sync.Mutex
	var order []int
	var postponed *command.Command
	h := &handler{
		onEvent: func(ev concurrency.Event) {
			mu.Lock()
			order = append(order, ev.Code)
			mu.Unlock()
		},
		onCommand: func(cmd *command.Command) api.Outcome {
			postponed = cmd
			return api.OutcomePending
		},
	}
	w := concurrency.NewWorker("w", h)
	require.NoError(t, w.AssignToThread(th, false))
	for i := 1; i <= 3; i++ {
		require.True(t, w.Fire(i, nil))
	}
	pending := command.New("Hold")
	require.NoError(t, w.Submit(pending))

	require.NoError(t, w.Halt(false))
	assert.Equal(t, concurrency.WorkerHalting, w.State())
	assert.False(t, w.Fire(9, nil), "no new events while halting")
	assert.True(t, w.FireEvent(10, nil, concurrency.PriorityMagic))

	require.NoError(t, th.Start())
	defer th.Stop(time.Second)

	assert.Eventually(t, func() bool { return w.State() == concurrency.WorkerInactive }, time.Second, time.Millisecond)
	assert.True(t, h.halted.Load())
	mu.Lock()
	assert.Equal(t, []int{10, 1, 2, 3}, order)
	mu.Unlock()

	require.NotNil(t, postponed)
	assert.Equal(t, api.KindStop, api.KindOf(pending.Err()))
	assert.Equal(t, 0, th.NumWorkers())
	assert.Nil(t, w.Thread())

	// the worker may be reassigned once inactive
	require.NoError(t, w.AssignToThread(th, true))
	require.NoError(t, w.Halt(true))
}

func TestHaltSyncFromOwnHandler(t *testing.T) {
	th := startThread(t, "selfhalt")
	haltErr := make(chan error, 1)
	var w *concurrency.Worker
	h := &handler{}
	h.onEvent = func(concurrency.Event) { haltErr <- w.Halt(true) }
	w = concurrency.NewWorker("w", h)
	require.NoError(t, w.AssignToThread(th, true))
	require.True(t, w.Fire(1, nil))

	select {
	case err := <-haltErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync halt from own handler did not return")
	}
	assert.True(t, h.halted.Load())
	assert.Equal(t, concurrency.WorkerInactive, w.State())
}

func TestAssignSyncFromOwnLoop(t *testing.T) {
	th := startThread(t, "selfassign")
	late := &handler{}
	lateW := concurrency.NewWorker("late", late)
	assignErr := make(chan error, 1)
	w := concurrency.NewWorker("w", concurrency.EventFunc(func(concurrency.Event) {
		assignErr <- lateW.AssignToThread(th, true)
	}))
	require.NoError(t, w.AssignToThread(th, true))
	require.True(t, w.Fire(1, nil))

	select {
	case err := <-assignErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync assign from own loop did not return")
	}
	assert.True(t, late.assigned.Load())
	assert.Equal(t, 2, th.NumWorkers())
}

func TestOnLoop(t *testing.T) {
	th := startThread(t, "onloop")
	assert.False(t, th.OnLoop())
	seen := make(chan bool, 1)
	w := concurrency.NewWorker("w", concurrency.EventFunc(func(concurrency.Event) {
		seen <- th.OnLoop()
	}))
	require.NoError(t, w.AssignToThread(th, true))
	require.True(t, w.Fire(1, nil))
	assert.True(t, <-seen)

	other := startThread(t, "other")
	assert.False(t, other.OnLoop())
}

func TestStopFailsQueuedCommands(t *testing.T) {
	th := concurrency.NewThread("stop")
	w := concurrency.NewWorker("w", &handler{})
	require.NoError(t, w.AssignToThread(th, false))
	cmd := command.New("queued")
	require.NoError(t, w.Submit(cmd))

	require.NoError(t, th.Stop(time.Second))
	assert.Equal(t, api.KindStop, api.KindOf(cmd.Err()))
	assert.Equal(t, concurrency.WorkerInactive, w.State())
	assert.ErrorIs(t, th.Start(), concurrency.ErrThreadClosed)
	assert.ErrorIs(t, w.AssignToThread(th, false), concurrency.ErrThreadClosed)
}

func TestHandlerPanicIsContained(t *testing.T) {
	th := startThread(t, "panic")
	w := concurrency.NewWorker("w", &handler{onCommand: func(cmd *command.Command) api.Outcome {
		if cmd.Name() == "boom" {
			panic("boom")
		}
		return api.OutcomeTrue
	}})
	require.NoError(t, w.AssignToThread(th, true))

	err := w.Execute(command.New("boom"), time.Second)
	require.Error(t, err)
	assert.NoError(t, w.Execute(command.New("ok"), time.Second))
	assert.GreaterOrEqual(t, th.Stats().Dispatched, uint64(3))
}

func TestWorkersOnSeparateThreads(t *testing.T) {
	a := startThread(t, "a")
	b := startThread(t, "b")
	var hits atomic.Int32
	mk := func(name string) *concurrency.Worker {
		return concurrency.NewWorker(name, &handler{onCommand: func(*command.Command) api.Outcome {
			hits.Add(1)
			return api.OutcomeTrue
		}})
	}
	wa, wb := mk("wa"), mk("wb")
	require.NoError(t, wa.AssignToThread(a, true))
	require.NoError(t, wb.AssignToThread(b, true))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, wa.Execute(command.New("x"), time.Second)) }()
		go func() { defer wg.Done(); assert.NoError(t, wb.Execute(command.New("y"), time.Second)) }()
	}
	wg.Wait()
	assert.EqualValues(t, 100, hits.Load())
}
