package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/dgraph-io/badger/v4"
)

// Badger key layout. Indices are append-only lists of ascending contract ids,
// maintained at write time so per-address lookups never scan the full set.
const (
	keyTotal         = "total"
	keyLastHeight    = "last_block_height"
	keyLastAppHash   = "last_block_app_hash"
	prefixContract   = "contract/"
	prefixNonce      = "nonce/"
	prefixFarmerIdx  = "fidx/"
	prefixBuyerIdx   = "bidx/"
)

// state wraps a badger transaction with the program's typed accessors. All
// reads and writes during block execution go through one state instance.
type state struct {
	txn *badger.Txn
}

func contractKey(id uint64) []byte {
	return fmt.Appendf(nil, "%s%016d", prefixContract, id)
}

func (s *state) getUint64(key string) (uint64, error) {
	item, err := s.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	})
	return n, err
}

func (s *state) setUint64(key string, n uint64) error {
	bz, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.txn.Set([]byte(key), bz)
}

// totalContracts returns the highest assigned contract id.
func (s *state) totalContracts() (uint64, error) {
	return s.getUint64(keyTotal)
}

// accountNonce returns the next expected sequence number for an address.
func (s *state) accountNonce(addr string) (uint64, error) {
	return s.getUint64(prefixNonce + addr)
}

func (s *state) setAccountNonce(addr string, n uint64) error {
	return s.setUint64(prefixNonce+addr, n)
}

// getContract loads a record. A nil contract with nil error means not found.
func (s *state) getContract(id uint64) (*Contract, error) {
	item, err := s.txn.Get(contractKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Contract
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *state) putContract(c *Contract) error {
	bz, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.txn.Set(contractKey(c.ID), bz)
}

// contractIndex returns the id list for an address index prefix.
func (s *state) contractIndex(prefix, addr string) ([]uint64, error) {
	item, err := s.txn.Get([]byte(prefix + addr))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ids)
	})
	return ids, err
}

func (s *state) appendIndex(prefix, addr string, id uint64) error {
	ids, err := s.contractIndex(prefix, addr)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	bz, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.txn.Set([]byte(prefix+addr), bz)
}

// execCreateContract runs the createContract operation. On a precondition
// violation it returns a non-zero code and leaves no trace in state; badger
// writes only happen after every check passes.
func (s *state) execCreateContract(signer string, p *CreateContractPayload, blockTime int64) ([]abcitypes.Event, uint32, string) {
	if p.Commodity == "" {
		return nil, CodeInvalidInput, "commodity must not be empty"
	}
	if p.Quantity == 0 {
		return nil, CodeInvalidInput, "quantity must be positive"
	}
	if p.PricePerUnit == 0 {
		return nil, CodeInvalidInput, "price per unit must be positive"
	}
	if p.DeliveryDate <= blockTime {
		return nil, CodeInvalidInput, "delivery date must be after creation time"
	}

	total, err := s.totalContracts()
	if err != nil {
		return nil, CodeInternal, fmt.Sprintf("state read failed: %v", err)
	}

	c := &Contract{
		ID:           total + 1,
		Farmer:       signer,
		Commodity:    p.Commodity,
		Quantity:     p.Quantity,
		PricePerUnit: p.PricePerUnit,
		DeliveryDate: p.DeliveryDate,
		FarmerSigned: true,
		CreatedAt:    blockTime,
	}

	if err := s.putContract(c); err != nil {
		return nil, CodeInternal, fmt.Sprintf("state write failed: %v", err)
	}
	if err := s.setUint64(keyTotal, c.ID); err != nil {
		return nil, CodeInternal, fmt.Sprintf("state write failed: %v", err)
	}
	if err := s.appendIndex(prefixFarmerIdx, signer, c.ID); err != nil {
		return nil, CodeInternal, fmt.Sprintf("index write failed: %v", err)
	}

	events := []abcitypes.Event{
		CreatedEvent(c),
		SignedEvent(c.ID, signer, RoleFarmer),
	}
	return events, CodeOK, fmt.Sprintf("contract %d created", c.ID)
}

// execSignContract runs the signAsBuyer operation. Assigning the buyer and
// marking settlement happen in one write; no observer of committed state can
// see the buyer set without the settled flag.
func (s *state) execSignContract(signer string, p *SignContractPayload) ([]abcitypes.Event, uint32, string) {
	c, err := s.getContract(p.ContractID)
	if err != nil {
		return nil, CodeInternal, fmt.Sprintf("state read failed: %v", err)
	}
	if c == nil {
		return nil, CodeNotFound, fmt.Sprintf("contract %d does not exist", p.ContractID)
	}
	if c.Settled || c.Buyer != "" {
		return nil, CodeAlreadyBought, fmt.Sprintf("contract %d already has buyer %s", c.ID, c.Buyer)
	}
	if signer == c.Farmer {
		return nil, CodeUnauthorized, "farmer cannot sign as buyer on own contract"
	}

	c.Buyer = signer
	c.BuyerSigned = true
	c.Settled = c.FarmerSigned && c.BuyerSigned

	if err := s.putContract(c); err != nil {
		return nil, CodeInternal, fmt.Sprintf("state write failed: %v", err)
	}
	if err := s.appendIndex(prefixBuyerIdx, signer, c.ID); err != nil {
		return nil, CodeInternal, fmt.Sprintf("index write failed: %v", err)
	}

	events := []abcitypes.Event{SignedEvent(c.ID, signer, RoleBuyer)}
	if c.Settled {
		events = append(events, SettledEvent(c))
	}
	return events, CodeOK, fmt.Sprintf("contract %d settled", c.ID)
}
