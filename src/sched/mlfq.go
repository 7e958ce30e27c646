package sched

import (
	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/devices"
	"github.com/rye-os/rye/src/thread"
)

// MLFQ4BSD is the 4.4BSD scheduler: priority is entirely derived from
// nice and recent_cpu, recomputed on a schedule driven by the tick
// source. Donation and thread_set_priority are both disabled while it is
// active.
type MLFQ4BSD struct {
	loadAvg common.Fixed
}

func NewMLFQ4BSD() *MLFQ4BSD { return &MLFQ4BSD{} }

func (*MLFQ4BSD) Name() string           { return "mlfqs" }
func (*MLFQ4BSD) DonationEnabled() bool  { return false }
func (*MLFQ4BSD) AllowSetPriority() bool { return false }
func (m *MLFQ4BSD) LoadAvg() common.Fixed { return m.loadAvg }

func (m *MLFQ4BSD) InitThread(t *thread.Tcb_t) {
	t.SetNice(0)
	t.SetRecentCPU(0)
	t.SetEffPriority(calculatePriority(0, 0))
}

// OnTick does the per-tick bookkeeping: +1 recent_cpu for the running
// (non-idle) thread, a priority recompute for every thread each 4
// ticks, and load_avg plus a full recent_cpu recompute once a second.
func (m *MLFQ4BSD) OnTick(k *thread.Kernel, running *thread.Tcb_t, isIdle bool) {
	if !isIdle {
		running.SetRecentCPU(running.RecentCPU().AddInt(1))
	}

	ticks := k.TicksLocked() // already includes the tick Kernel.Tick just counted; OnTick runs with k.mu held

	if ticks%uint64(devices.TicksPerSecond) == 0 {
		m.recalcLoadAvg(k, isIdle)
		k.ForEachThread(func(t *thread.Tcb_t) {
			t.SetRecentCPU(recalcRecentCPU(t.RecentCPU(), m.loadAvg, t.Nice()))
		})
	}

	if ticks%4 == 0 {
		k.ForEachThread(func(t *thread.Tcb_t) {
			k.ReinsertIfReady(t, calculatePriority(t.RecentCPU(), t.Nice()))
		})
	}
}

func (m *MLFQ4BSD) recalcLoadAvg(k *thread.Kernel, isIdle bool) {
	ready := common.FixedFromInt(k.ReadyLen())
	if !isIdle {
		ready = ready.AddInt(1)
	}
	fiftyNineSixtieths := common.FixedFromInt(59).Div(common.FixedFromInt(60))
	oneSixtieth := common.FixedFromInt(1).Div(common.FixedFromInt(60))
	m.loadAvg = fiftyNineSixtieths.Mul(m.loadAvg).Add(oneSixtieth.Mul(ready))
}

func recalcRecentCPU(recentCPU, loadAvg common.Fixed, nice int) common.Fixed {
	twoLoad := loadAvg.MulInt(2)
	coeff := twoLoad.Div(twoLoad.AddInt(1))
	return coeff.Mul(recentCPU).AddInt(nice)
}

// LoadAvg100 reports 100*load_avg rounded to the nearest integer.
func (m *MLFQ4BSD) LoadAvg100() int { return m.loadAvg.MulInt(100).ToIntRound() }

// RecentCPU100 reports 100*recent_cpu for t, rounded to nearest.
func RecentCPU100(t *thread.Tcb_t) int { return t.RecentCPU().MulInt(100).ToIntRound() }

func calculatePriority(recentCPU common.Fixed, nice int) int {
	p := common.FixedFromInt(thread.PriMax).Sub(recentCPU.DivInt(4)).SubInt(nice * 2)
	pri := p.ToIntTrunc()
	if pri > thread.PriMax {
		pri = thread.PriMax
	}
	if pri < thread.PriMin {
		pri = thread.PriMin
	}
	return pri
}
