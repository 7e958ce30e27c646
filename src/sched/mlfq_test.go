package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/thread"
)

func TestCalculatePriorityClampsToRange(t *testing.T) {
	assert.Equal(t, thread.PriMax, calculatePriority(common.FixedFromInt(0), 0))
	assert.Equal(t, thread.PriMin, calculatePriority(common.FixedFromInt(1000), 0))
	assert.Equal(t, thread.PriMin, calculatePriority(common.FixedFromInt(0), 40))
}

func TestCalculatePriorityFormula(t *testing.T) {
	// PRI_MAX - (recent_cpu / 4) - (nice * 2).
	got := calculatePriority(common.FixedFromInt(20), 2)
	want := thread.PriMax - 20/4 - 2*2
	assert.Equal(t, want, got)
}

func TestRecalcRecentCPUDecaysTowardZeroWithNoLoad(t *testing.T) {
	recentCPU := common.FixedFromInt(100)
	got := recalcRecentCPU(recentCPU, common.FixedFromInt(0), 0)
	assert.Equal(t, 0, got.ToIntTrunc())
}

func TestRecalcRecentCPUAddsNice(t *testing.T) {
	got := recalcRecentCPU(common.FixedFromInt(0), common.FixedFromInt(0), 5)
	assert.Equal(t, 5, got.ToIntRound())
}

func TestMLFQInitThreadSeedsNiceAndPriority(t *testing.T) {
	m := NewMLFQ4BSD()
	tcb := &thread.Tcb_t{}
	m.InitThread(tcb)
	assert.Equal(t, 0, tcb.Nice())
	assert.Equal(t, 0, tcb.RecentCPU().ToIntTrunc())
	assert.Equal(t, calculatePriority(0, 0), tcb.EffPriority())
}

func TestMLFQDisablesDonationAndSetPriority(t *testing.T) {
	m := NewMLFQ4BSD()
	assert.False(t, m.DonationEnabled())
	assert.False(t, m.AllowSetPriority())
	assert.Equal(t, "mlfqs", m.Name())
}

func TestMLFQOnTickIncrementsRecentCPUForRunningThread(t *testing.T) {
	m := NewMLFQ4BSD()
	k := thread.NewKernel(m)
	main := k.Bootstrap("main", thread.PriDefault)
	m.InitThread(main)

	for i := 0; i < 3; i++ {
		k.Tick()
	}

	assert.Equal(t, 3, main.RecentCPU().ToIntTrunc())
}

func TestMLFQRecalcLoadAvgIncludesRunningThread(t *testing.T) {
	m := NewMLFQ4BSD()
	k := thread.NewKernel(m)
	k.Bootstrap("main", thread.PriDefault)

	m.recalcLoadAvg(k, false)
	// Empty ready set plus the running thread: 100 * (1/60) rounds to 2.
	assert.Equal(t, 2, m.LoadAvg100())
}

func TestLoadAvg100AndRecentCPU100Scale(t *testing.T) {
	m := NewMLFQ4BSD()
	m.loadAvg = common.FixedFromInt(1).Div(common.FixedFromInt(2))
	assert.Equal(t, 50, m.LoadAvg100())

	tcb := &thread.Tcb_t{}
	tcb.SetRecentCPU(common.FixedFromInt(3))
	assert.Equal(t, 300, RecentCPU100(tcb))
}

func TestPriorityRRLeavesPriorityUntouchedOnTick(t *testing.T) {
	p := NewPriorityRR()
	k := thread.NewKernel(p)
	main := k.Bootstrap("main", thread.PriMin+5)

	k.Tick()
	k.Tick()

	assert.Equal(t, thread.PriMin+5, main.EffPriority())
	assert.True(t, p.DonationEnabled())
	assert.True(t, p.AllowSetPriority())
	assert.Equal(t, "priority", p.Name())
}
