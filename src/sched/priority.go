// Package sched implements the two interchangeable scheduling policies
// selected at boot (the "-o mlfqs" or "--mlfqs" flag). Both share the single
// priority-ordered ready list owned by package thread; what differs is
// how a thread's effective priority comes to be and whether donation
// and thread_set_priority are active.
package sched

import (
	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/thread"
)

// PriorityRR is the fixed-priority, priority-donating scheduler: the
// thread's priority is whatever thread_create/thread_set_priority gave it
// (plus any donation), never recomputed on a tick.
type PriorityRR struct{}

func NewPriorityRR() *PriorityRR { return &PriorityRR{} }

func (*PriorityRR) Name() string           { return "priority" }
func (*PriorityRR) DonationEnabled() bool  { return true }
func (*PriorityRR) AllowSetPriority() bool { return true }
func (*PriorityRR) LoadAvg() common.Fixed  { return 0 }

func (*PriorityRR) InitThread(t *thread.Tcb_t) {}

func (*PriorityRR) OnTick(k *thread.Kernel, running *thread.Tcb_t, isIdle bool) {}
