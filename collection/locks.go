package collection

import "sync"

// LoanLocks serializes writers per loan. Two collects on the same
// installment queue behind each other; writers on different loans never
// wait for one another.
//
// Entries are reference counted and dropped when the last holder unlocks,
// so the map only holds loans with in-flight writes.
type LoanLocks struct {
	mu    sync.Mutex
	locks map[LoanID]*loanLock
}

type loanLock struct {
	mu   sync.Mutex
	refs int
}

func NewLoanLocks() *LoanLocks {
	return &LoanLocks{locks: make(map[LoanID]*loanLock)}
}

// Lock blocks until the loan's lock is held and returns its release func.
func (l *LoanLocks) Lock(id LoanID) (unlock func()) {
	l.mu.Lock()
	ll, ok := l.locks[id]
	if !ok {
		ll = &loanLock{}
		l.locks[id] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()

	return func() {
		ll.mu.Unlock()

		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// InFlight returns how many loans currently have a holder or waiter.
func (l *LoanLocks) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
