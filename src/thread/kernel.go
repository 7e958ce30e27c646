package thread

import (
	"runtime"
	"sync"

	"github.com/rye-os/rye/src/common"
)

// Scheduler is C4: it owns priority policy (donation on/off, whether
// thread_set_priority is user-settable) and the per-tick recent_cpu/
// priority/load_avg bookkeeping for MLFQ. Both schedulers share the
// single priority-ordered ready list below; MLFQ keeps it sorted by
// rewriting effective priorities in place.
type Scheduler interface {
	Name() string
	DonationEnabled() bool
	AllowSetPriority() bool
	InitThread(t *Tcb_t)
	OnTick(k *Kernel, running *Tcb_t, isIdle bool)
	LoadAvg() common.Fixed
}

type readyList struct {
	items []*Tcb_t
}

func (r *readyList) insert(t *Tcb_t) {
	i := 0
	for i < len(r.items) && r.items[i].effPriority >= t.effPriority {
		i++
	}
	r.items = append(r.items, nil)
	copy(r.items[i+1:], r.items[i:])
	r.items[i] = t
}

func (r *readyList) popFront() *Tcb_t {
	if len(r.items) == 0 {
		return nil
	}
	t := r.items[0]
	r.items = r.items[1:]
	return t
}

func (r *readyList) remove(t *Tcb_t) {
	for i, x := range r.items {
		if x == t {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *readyList) len() int { return len(r.items) }

// Kernel is the global scheduling context: one instance models the whole
// (uniprocessor) machine's thread state -- the ready set, sleep set, all
// set and the currently running thread.
type Kernel struct {
	mu sync.Mutex

	ticks uint64

	ready    *readyList
	sleeping []*Tcb_t
	all      map[Tid_t]*Tcb_t
	nextTid  Tid_t

	scheduler Scheduler
	running   *Tcb_t
	idle      *Tcb_t

	pendingYield bool
}

// NewKernel constructs a Kernel bound to the given scheduling policy and
// spawns its idle thread. Callers must call Bootstrap once before the
// first Tick/Spawn to give the calling goroutine a thread identity.
func NewKernel(sched Scheduler) *Kernel {
	k := &Kernel{
		ready: &readyList{},
		all:   map[Tid_t]*Tcb_t{},
		scheduler: sched,
	}
	k.mu.Lock()
	idle := k.newTCBLocked("idle", PriMin)
	k.idle = idle
	k.mu.Unlock()

	go func() {
		<-idle.turn
		for {
			k.CheckPendingYield()
			k.Yield()
		}
	}()
	return k
}

func (k *Kernel) newTCBLocked(name string, priority int) *Tcb_t {
	k.nextTid++
	t := &Tcb_t{
		ID:           k.nextTid,
		Name:         name,
		basePriority: priority,
		effPriority:  priority,
		turn:         make(chan struct{}),
	}
	k.all[t.ID] = t
	k.scheduler.InitThread(t)
	return t
}

// Bootstrap registers the calling goroutine itself as a running thread,
// giving the booting code a TCB without ever switching into it. Call
// this once, from the goroutine that will act as the kernel's first
// thread.
func (k *Kernel) Bootstrap(name string, priority int) *Tcb_t {
	k.mu.Lock()
	t := k.newTCBLocked(name, priority)
	t.status = StatusRunning
	k.running = t
	k.mu.Unlock()
	return t
}

// Spawn creates a new thread ready to run entry(self) and returns its
// Tcb_t. entry runs on a dedicated goroutine that only proceeds once the
// scheduler hands it the baton.
func (k *Kernel) Spawn(name string, priority int, entry func(*Tcb_t)) *Tcb_t {
	k.mu.Lock()
	t := k.newTCBLocked(name, priority)
	t.status = StatusReady
	t.Parent = k.running
	if k.running != nil {
		k.running.children = append(k.running.children, t)
	}
	k.ready.insert(t)
	k.mu.Unlock()

	go func() {
		<-t.turn
		entry(t)
		k.Exit(0)
	}()

	k.ThreadTestPreemption()
	return t
}

func (k *Kernel) pickNext() *Tcb_t {
	if n := k.ready.popFront(); n != nil {
		return n
	}
	return k.idle
}

// scheduleLocked must be called with k.mu held and cur == k.running. It
// unlocks internally; callers must not touch kernel state after calling
// it until they re-acquire k.mu themselves (e.g. the semaphore
// reacquire-and-recheck loop).
func (k *Kernel) scheduleLocked(cur *Tcb_t) {
	next := k.pickNext()
	next.status = StatusRunning
	k.running = next
	as := next.addrSpace
	k.mu.Unlock()

	if as != nil {
		as.Activate()
	}
	if next == cur {
		return
	}
	next.turn <- struct{}{}
	<-cur.turn
}

// blockLocked marks cur blocked and switches away. Caller holds k.mu and
// must already have inserted cur into whatever wait structure it's
// blocking on.
func (k *Kernel) blockLocked(cur *Tcb_t) {
	cur.status = StatusBlocked
	k.scheduleLocked(cur)
}

// unblockLocked makes t ready without yielding -- thread_unblock never
// preempts; callers that change the ready set from the running thread's
// own context must call ThreadTestPreemption afterward.
func (k *Kernel) unblockLocked(t *Tcb_t) {
	t.status = StatusReady
	k.ready.insert(t)
}

// Yield gives up the CPU voluntarily, re-enqueuing the running thread
// (unless it's idle) at its current effective priority.
func (k *Kernel) Yield() {
	k.mu.Lock()
	cur := k.running
	if cur != k.idle {
		cur.status = StatusReady
		k.ready.insert(cur)
	}
	k.scheduleLocked(cur)
}

// ThreadTestPreemption yields immediately if the ready set's front thread
// outranks the running thread -- called from non-interrupt contexts
// (thread_create, sema_up/lock_release, thread_set_priority) right after
// they grow the ready set.
func (k *Kernel) ThreadTestPreemption() {
	k.mu.Lock()
	if k.ready.len() > 0 && k.running != nil && k.ready.items[0].effPriority > k.running.effPriority {
		k.mu.Unlock()
		k.Yield()
		return
	}
	k.mu.Unlock()
}

// CheckPendingYield performs a deferred yield requested by Tick. Call
// this from safe checkpoints outside interrupt context: syscall return to
// user mode, and the idle loop.
func (k *Kernel) CheckPendingYield() {
	k.mu.Lock()
	if !k.pendingYield {
		k.mu.Unlock()
		return
	}
	k.pendingYield = false
	if cur := k.running; cur != k.idle {
		cur.sliceTicks = 0
	}
	k.mu.Unlock()
	k.Yield()
}

// SleepUntil blocks the running thread until Tick has advanced the tick
// counter to wake (or beyond).
func (k *Kernel) SleepUntil(wake uint64) {
	k.mu.Lock()
	cur := k.running
	cur.wakeupTick = wake
	k.sleeping = append(k.sleeping, cur)
	k.blockLocked(cur)
}

func (k *Kernel) wakeDueLocked() {
	if len(k.sleeping) == 0 {
		return
	}
	rest := k.sleeping[:0]
	for _, t := range k.sleeping {
		if t.wakeupTick <= k.ticks {
			k.unblockLocked(t)
		} else {
			rest = append(rest, t)
		}
	}
	k.sleeping = rest
}

// Tick is the ISR entry point: it must not block or switch. It advances
// the tick counter, lets the scheduler do its per-tick bookkeeping, wakes
// due sleepers, and records whether a yield is owed on the next
// checkpoint.
func (k *Kernel) Tick() {
	k.mu.Lock()
	k.ticks++
	running := k.running
	isIdle := running == nil || running == k.idle
	if !isIdle {
		running.sliceTicks++
	}
	k.scheduler.OnTick(k, running, isIdle)
	k.wakeDueLocked()
	if !isIdle && running.sliceTicks >= TimeSlice {
		k.pendingYield = true
	}
	// A woken sleeper or a recompute may have put a higher-priority
	// thread at the front of the ready set; interrupt context cannot
	// switch, so request the yield for the next checkpoint.
	if running != nil && k.ready.len() > 0 && k.ready.items[0].effPriority > running.effPriority {
		k.pendingYield = true
	}
	k.mu.Unlock()
}

func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// TicksLocked returns the tick counter without acquiring k.mu. Like
// ForEachThread/ReinsertIfReady, it is only safe to call from within
// Scheduler.OnTick, which Kernel.Tick already invokes with k.mu held;
// calling Ticks() there instead would deadlock on the non-reentrant lock.
func (k *Kernel) TicksLocked() uint64 {
	return k.ticks
}

func (k *Kernel) Running() *Tcb_t { return k.running }

// ReadyLen reports the number of runnable, non-running threads.
func (k *Kernel) ReadyLen() int { return k.ready.len() }

// ForEachThread iterates every live thread. Scheduler.OnTick
// implementations call this for the whole-system recalculation passes
// (mlfqs_recalculate_recent_cpu/priority); it is only safe to call while
// Tick already holds k.mu, i.e. from within OnTick.
func (k *Kernel) ForEachThread(fn func(*Tcb_t)) {
	for _, t := range k.all {
		fn(t)
	}
}

// ReinsertIfReady updates a thread's effective priority and, if it's
// sitting in the ready set, re-sorts it. Like ForEachThread, only safe
// from within OnTick.
func (k *Kernel) ReinsertIfReady(t *Tcb_t, newEffPriority int) {
	t.setEffPriority(newEffPriority)
	if t.status == StatusReady {
		k.ready.remove(t)
		k.ready.insert(t)
	}
}

func (k *Kernel) recomputeEffectiveLocked(t *Tcb_t) {
	newPri := t.basePriority
	if len(t.donations) > 0 && t.donations[0].effPriority > newPri {
		newPri = t.donations[0].effPriority
	}
	if newPri != t.effPriority {
		t.effPriority = newPri
		if t.status == StatusReady {
			k.ready.remove(t)
			k.ready.insert(t)
		}
	}
}

const maxDonationDepth = 8

func (k *Kernel) donatePriorityLocked(cur *Tcb_t) {
	t := cur
	for depth := 0; depth < maxDonationDepth; depth++ {
		if t.waitOnLock == nil {
			return
		}
		holder := t.waitOnLock.holder
		if holder == nil {
			return
		}
		if t.effPriority > holder.effPriority {
			holder.effPriority = t.effPriority
			if holder.status == StatusReady {
				k.ready.remove(holder)
				k.ready.insert(holder)
			}
		}
		t = holder
	}
}

// SetPriority implements thread_set_priority: a no-op when the active
// scheduler derives priority entirely from nice/recent_cpu.
func (k *Kernel) SetPriority(t *Tcb_t, pri int) {
	k.mu.Lock()
	t.basePriority = pri
	if !k.scheduler.AllowSetPriority() {
		k.mu.Unlock()
		return
	}
	k.recomputeEffectiveLocked(t)
	isRunning := t == k.running
	k.mu.Unlock()
	if isRunning {
		k.ThreadTestPreemption()
	}
}

// Exit terminates the running thread. It never returns to its caller.
func (k *Kernel) Exit(status int) {
	k.mu.Lock()
	cur := k.running
	cur.status = StatusDying
	cur.exitStatus = status
	delete(k.all, cur.ID)
	next := k.pickNext()
	next.status = StatusRunning
	k.running = next
	as := next.addrSpace
	k.mu.Unlock()

	if as != nil {
		as.Activate()
	}
	next.turn <- struct{}{}
	runtime.Goexit()
}
