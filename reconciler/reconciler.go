// Package reconciler replays ledger events into the local mirror. It runs
// after every resolved submission and periodically on a timer, keeping the
// mirror eventually consistent with the event log. Applying an event twice is
// a no-op, so overlapping ranges and crash re-processing are safe.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/mirror"
)

// EventSource supplies the event log and its current extent.
type EventSource interface {
	FetchEvents(ctx context.Context, fromBlock, toBlock int64) ([]ledger.Event, error)
	LatestHeight(ctx context.Context) (int64, error)
}

// Reconciler applies events to the mirror. It is the mirror's only writer.
type Reconciler struct {
	source   EventSource
	store    mirror.Store
	interval time.Duration
	logger   cmtlog.Logger

	// mu serializes Sync and Apply so event batches never interleave.
	mu sync.Mutex
}

// New creates a reconciler syncing source into store every interval.
func New(source EventSource, store mirror.Store, interval time.Duration, logger cmtlog.Logger) *Reconciler {
	return &Reconciler{
		source:   source,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run syncs on a ticker until ctx is done. Errors are logged and retried on
// the next tick; a transient node outage must not kill the loop.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.logger.Error("Mirror sync failed", "err", err)
			}
		}
	}
}

// Sync fetches and applies all events past the cursor, then advances it.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cursor, err := r.store.Cursor()
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}
	latest, err := r.source.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("reading latest height: %w", err)
	}
	if latest <= cursor {
		return nil
	}

	events, err := r.source.FetchEvents(ctx, cursor+1, latest)
	if err != nil {
		return fmt.Errorf("fetching events %d..%d: %w", cursor+1, latest, err)
	}
	if err := r.apply(events); err != nil {
		return err
	}
	if err := r.store.SetCursor(latest); err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return nil
}

// Apply replays a batch of events immediately, without touching the cursor.
// The service calls this with receipt events so a caller's read right after a
// confirmed write sees its effect; the periodic Sync re-covers the same
// heights harmlessly.
func (r *Reconciler) Apply(events []ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(events)
}

// apply stages all changes of a batch and writes each record once, so a
// buyer signature and the settlement it triggers land in the mirror as a
// single visible transition.
func (r *Reconciler) apply(events []ledger.Event) error {
	staged := make(map[uint64]*ledger.Contract)

	lookup := func(id uint64) (*ledger.Contract, error) {
		if c, ok := staged[id]; ok {
			return c, nil
		}
		c, err := r.store.Get(id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			staged[id] = c
		}
		return c, nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case ledger.EventContractCreated:
			existing, err := lookup(ev.ContractID)
			if err != nil {
				return fmt.Errorf("applying created event for %d: %w", ev.ContractID, err)
			}
			if existing != nil {
				continue // already applied
			}
			staged[ev.ContractID] = &ledger.Contract{
				ID:           ev.ContractID,
				Farmer:       ev.Farmer,
				Commodity:    ev.Commodity,
				Quantity:     ev.Quantity,
				PricePerUnit: ev.PricePerUnit,
				DeliveryDate: ev.DeliveryDate,
				FarmerSigned: true,
				CreatedAt:    ev.CreatedAt,
			}

		case ledger.EventContractSigned:
			c, err := lookup(ev.ContractID)
			if err != nil {
				return fmt.Errorf("applying signed event for %d: %w", ev.ContractID, err)
			}
			if c == nil {
				r.logger.Error("Signed event for unknown contract", "contract_id", ev.ContractID)
				continue
			}
			switch ev.Role {
			case ledger.RoleFarmer:
				c.FarmerSigned = true
			case ledger.RoleBuyer:
				if c.Buyer == "" {
					c.Buyer = ev.Signer
					c.BuyerSigned = true
				}
			}

		case ledger.EventContractSettled:
			c, err := lookup(ev.ContractID)
			if err != nil {
				return fmt.Errorf("applying settled event for %d: %w", ev.ContractID, err)
			}
			if c == nil {
				r.logger.Error("Settled event for unknown contract", "contract_id", ev.ContractID)
				continue
			}
			c.Settled = true
		}
	}

	for _, c := range staged {
		if err := r.store.Put(c); err != nil {
			return fmt.Errorf("writing contract %d to mirror: %w", c.ID, err)
		}
	}
	return nil
}
