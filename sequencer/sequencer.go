// Package sequencer serializes outgoing transactions per signer address. The
// ledger orders each account's transactions by sequence number; two
// submissions for one account in flight at once produce a gap or duplicate
// that stalls every later transaction from that account. One lease per
// address at a time is the only mutual exclusion this system needs.
package sequencer

import (
	"context"
	"fmt"
	"sync"
)

// NonceSource answers the next expected sequence number for an address, as
// the ledger node currently sees it.
type NonceSource interface {
	AccountNonce(ctx context.Context, addr string) (uint64, error)
}

// Sequencer hands out exclusive per-address leases. Leases for different
// addresses are fully independent.
type Sequencer struct {
	source NonceSource

	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	sem chan struct{}

	// next is advanced only when a lease commits, and is only a lower
	// bound: the node is re-queried on every acquisition since another
	// client or a restart may have advanced the account.
	next uint64
}

// Lease grants exclusive submission rights for one address until released.
type Lease struct {
	addr  string
	nonce uint64
	acct  *account
	once  sync.Once
}

// New creates a sequencer that refreshes sequence numbers from source.
func New(source NonceSource) *Sequencer {
	return &Sequencer{
		source:   source,
		accounts: make(map[string]*account),
	}
}

func (s *Sequencer) account(addr string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[addr]
	if !ok {
		acct = &account{sem: make(chan struct{}, 1)}
		s.accounts[addr] = acct
	}
	return acct
}

// Acquire blocks until the address's lease is free or ctx is done. The
// returned lease carries the sequence number to use, refreshed from the node
// under the lease.
func (s *Sequencer) Acquire(ctx context.Context, addr string) (*Lease, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty signer address")
	}
	acct := s.account(addr)

	select {
	case acct.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lease on %s: %w", addr, ctx.Err())
	}

	fresh, err := s.source.AccountNonce(ctx, addr)
	if err != nil {
		<-acct.sem
		return nil, fmt.Errorf("refreshing sequence number for %s: %w", addr, err)
	}

	// A confirmed lease may have advanced past what the node reports for a
	// brief moment; take the higher of the two so a committed write is
	// never reissued the same number.
	nonce := fresh
	if acct.next > nonce {
		nonce = acct.next
	}

	return &Lease{addr: addr, nonce: nonce, acct: acct}, nil
}

// Nonce is the sequence number this lease authorizes.
func (l *Lease) Nonce() uint64 {
	return l.nonce
}

// Addr is the address the lease covers.
func (l *Lease) Addr() string {
	return l.addr
}

// Release frees the lease. committed reports whether the submission was
// confirmed: only then is the cached sequence number advanced. Rejections and
// indeterminate outcomes leave the cache alone, forcing the next lease to
// trust the node's view. Release is idempotent.
func (l *Lease) Release(committed bool) {
	l.once.Do(func() {
		if committed && l.nonce+1 > l.acct.next {
			l.acct.next = l.nonce + 1
		}
		<-l.acct.sem
	})
}
