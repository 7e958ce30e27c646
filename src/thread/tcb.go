// Package thread implements the thread core together with the
// synchronization primitives: priority donation couples locks and TCBs
// tightly enough that splitting them would force an import cycle.
//
// There is no real hardware stack switch here: each Tcb_t owns a kernel
// goroutine parked on a "turn" baton, and schedule() hands that baton to
// exactly one thread at a time. That keeps the uniprocessor invariant
// (never more than one thread actually running) exact while still
// giving every thread a real, pausable Go call stack.
package thread

import "github.com/rye-os/rye/src/common"

const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	// TimeSlice is the number of ticks a thread runs before a yield is
	// requested on the next checkpoint.
	TimeSlice = 4
)

type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusDying:
		return "dying"
	default:
		return "unknown"
	}
}

type Tid_t uint64

// AddrSpace is the hook a Tcb_t uses to activate its address space across
// a context switch (C5's AddressSpace implements this).
type AddrSpace interface {
	Activate()
}

// Tcb_t is the thread control block, C2's Thread/TCB.
type Tcb_t struct {
	ID   Tid_t
	Name string

	status       Status
	basePriority int
	effPriority  int

	nice      int
	recentCPU common.Fixed

	wakeupTick uint64

	waitOnLock *Lock_t
	donations  []*Tcb_t

	Parent   *Tcb_t
	children []*Tcb_t

	addrSpace AddrSpace

	sliceTicks int
	exitStatus int

	turn chan struct{}
}

func (t *Tcb_t) Status() Status         { return t.status }
func (t *Tcb_t) BasePriority() int      { return t.basePriority }
func (t *Tcb_t) EffPriority() int       { return t.effPriority }
func (t *Tcb_t) Nice() int              { return t.nice }
func (t *Tcb_t) SetNice(n int)          { t.nice = n }
func (t *Tcb_t) RecentCPU() common.Fixed     { return t.recentCPU }
func (t *Tcb_t) SetRecentCPU(f common.Fixed) { t.recentCPU = f }
func (t *Tcb_t) ExitStatus() int        { return t.exitStatus }
func (t *Tcb_t) SetAddrSpace(a AddrSpace) { t.addrSpace = a }
func (t *Tcb_t) Children() []*Tcb_t     { return t.children }

// setEffPriority is used internally and by scheduler implementations via
// Kernel.ReinsertIfReady, never directly by callers outside this package
// or sched.
func (t *Tcb_t) setEffPriority(p int) { t.effPriority = p }

// SetEffPriority sets a thread's effective priority directly. It is meant
// for Scheduler.InitThread, called before the thread is ever inserted
// into the ready set, so no re-sort is needed; once a thread is live, go
// through Kernel.ReinsertIfReady instead.
func (t *Tcb_t) SetEffPriority(p int) { t.effPriority = p }

func insertDonationSorted(owner *Tcb_t, donor *Tcb_t) {
	i := 0
	for i < len(owner.donations) && owner.donations[i].effPriority >= donor.effPriority {
		i++
	}
	owner.donations = append(owner.donations, nil)
	copy(owner.donations[i+1:], owner.donations[i:])
	owner.donations[i] = donor
}

func removeDonationsForLock(owner *Tcb_t, lock *Lock_t) {
	out := owner.donations[:0]
	for _, d := range owner.donations {
		if d.waitOnLock != lock {
			out = append(out, d)
		}
	}
	owner.donations = out
}
