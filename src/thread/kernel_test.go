package thread

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rye-os/rye/src/common"
)

// fakeSched is a minimal Scheduler double: it does no per-tick
// bookkeeping of its own, letting tests exercise the kernel's generic
// ready-list/donation/preemption machinery in isolation from either
// concrete policy in src/sched.
type fakeSched struct {
	donation bool
	allowSet bool
}

func (f *fakeSched) Name() string                                 { return "fake" }
func (f *fakeSched) DonationEnabled() bool                         { return f.donation }
func (f *fakeSched) AllowSetPriority() bool                        { return f.allowSet }
func (f *fakeSched) InitThread(t *Tcb_t)                           {}
func (f *fakeSched) OnTick(k *Kernel, running *Tcb_t, isIdle bool) {}
func (f *fakeSched) LoadAvg() common.Fixed                         { return 0 }

func TestReadyListOrdersByEffPriorityDescending(t *testing.T) {
	r := &readyList{}
	low := &Tcb_t{Name: "low", effPriority: 10}
	mid := &Tcb_t{Name: "mid", effPriority: 20}
	high := &Tcb_t{Name: "high", effPriority: 30}

	r.insert(low)
	r.insert(high)
	r.insert(mid)

	assert.Same(t, high, r.popFront())
	assert.Same(t, mid, r.popFront())
	assert.Same(t, low, r.popFront())
	assert.Nil(t, r.popFront())
}

func TestReadyListRemove(t *testing.T) {
	r := &readyList{}
	a := &Tcb_t{Name: "a", effPriority: 1}
	b := &Tcb_t{Name: "b", effPriority: 2}
	r.insert(a)
	r.insert(b)
	r.remove(a)
	assert.Equal(t, 1, r.len())
	assert.Same(t, b, r.popFront())
}

// TestDonationRaisesHolderEffPriority reproduces the classic donation
// scenario (a low-priority lock holder, a high-priority waiter) end to
// end through real Kernel/Lock_t/Sema_t plumbing: every handshake below
// uses a Sema_t rather than a raw channel so the calling test goroutine
// (registered as the kernel's bootstrap thread) only ever blocks by
// going through blockLocked/scheduleLocked, never outside the kernel's
// bookkeeping.
func TestDonationRaisesHolderEffPriority(t *testing.T) {
	k := NewKernel(&fakeSched{donation: true, allowSet: true})
	k.Bootstrap("main", PriDefault)

	lock := NewLock()
	holderAcquired := NewSema(0)
	holderRelease := NewSema(0)
	waiterDone := NewSema(0)

	holder := k.Spawn("holder", PriMin+5, func(self *Tcb_t) {
		lock.Acquire(k)
		holderAcquired.Up(k)
		holderRelease.Down(k)
		lock.Release(k)
	})

	holderAcquired.Down(k)

	k.Spawn("waiter", PriMax, func(self *Tcb_t) {
		lock.Acquire(k)
		lock.Release(k)
		waiterDone.Up(k)
	})

	// Spawning the waiter (PriMax) preempts main immediately, and the
	// waiter blocks on the still-held lock, donating its priority to
	// holder before control returns here.
	assert.Equal(t, PriMax, holder.EffPriority())
	assert.Equal(t, PriMin+5, holder.BasePriority())

	holderRelease.Up(k)
	waiterDone.Down(k)

	// Donation unwinds once the lock is released with no more donors.
	assert.Equal(t, PriMin+5, holder.EffPriority())
}

func TestSetPriorityIgnoredUnderMLFQPolicy(t *testing.T) {
	k := NewKernel(&fakeSched{donation: false, allowSet: false})
	main := k.Bootstrap("main", PriDefault)

	k.SetPriority(main, PriMax)
	assert.Equal(t, PriMax, main.BasePriority())
	assert.Equal(t, PriDefault, main.EffPriority())
}

func TestSetPriorityAppliesUnderPriorityPolicy(t *testing.T) {
	k := NewKernel(&fakeSched{donation: true, allowSet: true})
	main := k.Bootstrap("main", PriDefault)

	k.SetPriority(main, PriMax)
	assert.Equal(t, PriMax, main.BasePriority())
	assert.Equal(t, PriMax, main.EffPriority())
}

// TestSpawnOrdersByPriorityDescending: three
// threads created with priorities 30, 20, 10 (in that order) each record
// their name into a shared slice as their first action. Because Spawn
// inserts into the ready set ordered by effective priority and the
// bootstrap thread only yields once all three are ready, the dispatcher
// must run them highest-priority-first regardless of creation order.
func TestSpawnOrdersByPriorityDescending(t *testing.T) {
	k := NewKernel(&fakeSched{})
	k.Bootstrap("main", PriMax)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	done := NewSema(0)
	var seen int

	body := func(self *Tcb_t) {
		record(self.Name)
		mu.Lock()
		seen++
		last := seen == 3
		mu.Unlock()
		if last {
			done.Up(k)
		}
	}

	k.Spawn("thirty", 30, body)
	k.Spawn("twenty", 20, body)
	k.Spawn("ten", 10, body)

	done.Down(k)

	assert.Equal(t, []string{"thirty", "twenty", "ten"}, order)
}

func TestTickAdvancesCounter(t *testing.T) {
	k := NewKernel(&fakeSched{})
	k.Bootstrap("main", PriDefault)

	before := k.Ticks()
	k.Tick()
	assert.Equal(t, before+1, k.Ticks())
}

// TestSleepUntilWakesOnlyAfterDueTick: a sleeper must not run before
// its wakeup tick, and must run once the tick counter reaches it and
// the running thread reaches a suspension point.
func TestSleepUntilWakesOnlyAfterDueTick(t *testing.T) {
	k := NewKernel(&fakeSched{})
	k.Bootstrap("main", PriMin+1)

	woke := NewSema(0)
	k.Spawn("sleeper", PriMax, func(self *Tcb_t) {
		k.SleepUntil(3)
		woke.Up(k)
	})

	// Spawning the higher-priority sleeper preempts main immediately, so
	// by the time control returns here it is already asleep.
	k.Tick()
	k.Tick()
	assert.False(t, woke.TryDown(k), "sleeper must not wake before its due tick")

	k.Tick()
	woke.Down(k)
	assert.GreaterOrEqual(t, k.Ticks(), uint64(3))
}

func TestCondWaitSignalRoundtrip(t *testing.T) {
	k := NewKernel(&fakeSched{donation: true, allowSet: true})
	k.Bootstrap("main", PriDefault)

	lock := NewLock()
	cond := NewCond()
	waiting := NewSema(0)
	done := NewSema(0)

	k.Spawn("waiter", PriMax, func(self *Tcb_t) {
		lock.Acquire(k)
		waiting.Up(k)
		cond.Wait(k, lock)
		lock.Release(k)
		done.Up(k)
	})

	waiting.Down(k)
	lock.Acquire(k)
	cond.Signal(k, lock)
	lock.Release(k)
	done.Down(k)

	assert.Equal(t, 0, len(cond.waiters))
}

func TestCondBroadcastWakesEveryWaiter(t *testing.T) {
	k := NewKernel(&fakeSched{donation: true, allowSet: true})
	k.Bootstrap("main", PriDefault)

	lock := NewLock()
	cond := NewCond()
	waiting := NewSema(0)
	done := NewSema(0)

	for i := 0; i < 3; i++ {
		k.Spawn("waiter", PriMax, func(self *Tcb_t) {
			lock.Acquire(k)
			waiting.Up(k)
			cond.Wait(k, lock)
			lock.Release(k)
			done.Up(k)
		})
	}
	for i := 0; i < 3; i++ {
		waiting.Down(k)
	}

	lock.Acquire(k)
	cond.Broadcast(k, lock)
	lock.Release(k)
	for i := 0; i < 3; i++ {
		done.Down(k)
	}

	assert.Equal(t, 0, len(cond.waiters))
}
