// Command kernel boots the scheduler, wires up the virtual-memory
// engine and process table, and execs the initial user program.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/rye-os/rye/src/devices"
	"github.com/rye-os/rye/src/process"
	"github.com/rye-os/rye/src/sched"
	"github.com/rye-os/rye/src/syscall"
	"github.com/rye-os/rye/src/thread"
	"github.com/rye-os/rye/src/vm"
)

// framePoolPages bounds the simulated physical memory pool. Real boot
// code sizes this from the e820 memory map; this kernel just picks a
// fixed budget, generous enough for a handful of concurrent user
// processes' code/data/stack pages.
const framePoolPages = 4096

func main() {
	mlfqs := flag.Bool("mlfqs", false, "use the 4BSD multi-level feedback queue scheduler instead of priority scheduling with donation")
	opts := flag.StringSliceP("option", "o", nil, "boot options; \"mlfqs\" selects the same scheduler as --mlfqs")
	initProg := flag.String("init", "init", "path of the first user program to exec")
	flag.Parse()
	for _, o := range *opts {
		if o == "mlfqs" {
			*mlfqs = true
		}
	}

	fmt.Println("booting kernel core")
	fmt.Printf("scheduler: %s\n", schedulerName(*mlfqs))

	var scheduler thread.Scheduler
	if *mlfqs {
		scheduler = sched.NewMLFQ4BSD()
	} else {
		scheduler = sched.NewPriorityRR()
	}

	k := thread.NewKernel(scheduler)
	k.Bootstrap("main", thread.PriDefault)

	timer := devices.NewTimer()
	timer.SetHook(func() { k.Tick() })
	timer.Start()
	defer timer.Stop()

	console := devices.NewConsole()
	phys := newPhysPool(framePoolPages)
	engine := vm.NewEngine(phys, framePoolPages)
	mmuFactory := func() vm.MMU { return newSimMMU() }

	// A real boot loads user binaries off disk into the file system
	// before ever execing one. This kernel has no disk, so it reads the
	// one binary it's told to exec straight from the host file system
	// into the in-memory one at boot.
	fs := process.NewMemFS()
	if data, err := os.ReadFile(*initProg); err == nil {
		fs.Put(*initProg, data)
	} else {
		fmt.Fprintf(os.Stderr, "warning: could not read %s: %v\n", *initProg, err)
	}
	tab := process.NewTable(k, fs, engine, mmuFactory, console)

	syscall.HaltFunc = func() {
		fmt.Println("system halted")
		os.Exit(0)
	}
	_ = syscall.NewDispatcher(k, tab)

	// main itself is not a Process_t -- it is the bootstrap kernel thread
	// -- so it cannot call Process_t.Wait (that rendezvous is parent
	// process to child process). It waits for init the same way
	// process.Exit's parent handshake does internally: a Sema_t, so the
	// wait routes through the scheduler's blockLocked/scheduleLocked
	// instead of parking the goroutine outside the kernel's bookkeeping.
	initDone := thread.NewSema(0)
	var initStatus int
	_, errt := tab.Create(*initProg, thread.PriDefault, *initProg, []string{*initProg}, func(p *process.Process_t) {
		runInit(p)
		initStatus = 0
		initDone.Up(k)
	})
	if !errt.Ok() {
		fmt.Fprintf(os.Stderr, "failed to exec %s: %s\n", *initProg, errt)
		os.Exit(1)
	}

	initDone.Down(k)
	fmt.Printf("init exited with status %d\n", initStatus)
}

func schedulerName(mlfqs bool) string {
	if mlfqs {
		return "mlfqs"
	}
	return "priority"
}

// runInit is the body of the initial process, standing in for the
// trampoline that would jump to a loaded ELF entry point and start
// executing user instructions on a real emulated CPU. There is no such
// CPU here, so the process' "user code" is this closure; it prints one
// line naming its pid and returns, which exits the process.
func runInit(p *process.Process_t) {
	fmt.Printf("init (pid %d) running\n", p.Tcb.ID)
}
