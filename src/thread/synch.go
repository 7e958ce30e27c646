package thread

// Sema_t is a counting semaphore. Its wait list is resorted by
// effective priority immediately before a waiter is woken, since
// donations may have changed priorities while threads waited.
type Sema_t struct {
	value   int
	waiters []*Tcb_t
}

func NewSema(value int) *Sema_t { return &Sema_t{value: value} }

func (s *Sema_t) Down(k *Kernel) {
	k.mu.Lock()
	for s.value == 0 {
		cur := k.running
		s.waiters = append(s.waiters, cur)
		k.blockLocked(cur)
		k.mu.Lock()
	}
	s.value--
	k.mu.Unlock()
}

func (s *Sema_t) TryDown(k *Kernel) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

func (s *Sema_t) Up(k *Kernel) {
	k.mu.Lock()
	sortWaitersByPriority(s.waiters)
	var woken *Tcb_t
	if len(s.waiters) > 0 {
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.value++
	if woken != nil {
		k.unblockLocked(woken)
	}
	k.mu.Unlock()
	k.ThreadTestPreemption()
}

func (s *Sema_t) Value() int {
	return s.value
}

func sortWaitersByPriority(w []*Tcb_t) {
	for i := 1; i < len(w); i++ {
		j := i
		for j > 0 && w[j-1].effPriority < w[j].effPriority {
			w[j-1], w[j] = w[j], w[j-1]
			j--
		}
	}
}

// Lock_t is a non-recursive mutex: a binary semaphore plus an owner
// pointer and priority-donation bookkeeping.
type Lock_t struct {
	holder *Tcb_t
	sema   *Sema_t
}

func NewLock() *Lock_t { return &Lock_t{sema: NewSema(1)} }

func (l *Lock_t) Acquire(k *Kernel) {
	k.mu.Lock()
	cur := k.running
	if l.holder == cur {
		panic("lock: reacquire by holder")
	}
	if l.holder != nil && k.scheduler.DonationEnabled() {
		cur.waitOnLock = l
		insertDonationSorted(l.holder, cur)
		k.donatePriorityLocked(cur)
	}
	k.mu.Unlock()

	l.sema.Down(k)

	k.mu.Lock()
	cur.waitOnLock = nil
	l.holder = cur
	k.mu.Unlock()
}

func (l *Lock_t) Release(k *Kernel) {
	k.mu.Lock()
	owner := l.holder
	if owner != k.running {
		panic("lock: release by non-owner")
	}
	l.holder = nil
	if k.scheduler.DonationEnabled() {
		removeDonationsForLock(owner, l)
		k.recomputeEffectiveLocked(owner)
	}
	k.mu.Unlock()
	l.sema.Up(k)
}

func (l *Lock_t) HeldByCurrent(k *Kernel) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return l.holder == k.running
}

func (l *Lock_t) Holder() *Tcb_t { return l.holder }

// Cond_t is a Mesa-style condition variable, always used with an
// associated Lock_t held by the caller. A woken waiter must recheck
// its predicate.
type Cond_t struct {
	waiters []*Sema_t
}

func NewCond() *Cond_t { return &Cond_t{} }

func (c *Cond_t) Wait(k *Kernel, lock *Lock_t) {
	waiterSema := NewSema(0)
	c.waiters = append(c.waiters, waiterSema)

	lock.Release(k)
	waiterSema.Down(k)
	lock.Acquire(k)
}

func (c *Cond_t) Signal(k *Kernel, lock *Lock_t) {
	if len(c.waiters) == 0 {
		return
	}
	best := 0
	for i := 1; i < len(c.waiters); i++ {
		if waiterFrontPriority(c.waiters[i]) > waiterFrontPriority(c.waiters[best]) {
			best = i
		}
	}
	woken := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	woken.Up(k)
}

func (c *Cond_t) Broadcast(k *Kernel, lock *Lock_t) {
	for len(c.waiters) > 0 {
		c.Signal(k, lock)
	}
}

func waiterFrontPriority(s *Sema_t) int {
	if len(s.waiters) == 0 {
		return -1
	}
	return s.waiters[0].effPriority
}
