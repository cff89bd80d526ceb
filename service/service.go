// Package service orchestrates the forward contract lifecycle: validate the
// request locally, serialize on the signer's sequence lease, submit to the
// ledger, await confirmation, replay the resulting events into the mirror
// and return the outcome.
package service

import (
	"context"
	"errors"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/agroforward/client"
	"github.com/ahmadzakiakmal/agroforward/keyring"
	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/mirror"
	"github.com/ahmadzakiakmal/agroforward/reconciler"
	"github.com/ahmadzakiakmal/agroforward/sequencer"
)

// Ledger is the slice of the ledger client the service uses. *client.Client
// implements it; tests substitute fakes.
type Ledger interface {
	EstimateFee(ctx context.Context, payload []byte) (uint64, error)
	Submit(ctx context.Context, signedTx []byte) (client.TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle client.TxHandle, timeout time.Duration) (*client.Receipt, error)
	GetContract(ctx context.Context, id uint64) (*ledger.Contract, error)
	TotalContracts(ctx context.Context) (uint64, error)
	Status(ctx context.Context) (*client.NodeStatus, error)
}

// ContractService is the public lifecycle API.
type ContractService struct {
	ledger         Ledger
	seq            *sequencer.Sequencer
	rec            *reconciler.Reconciler
	store          mirror.Store
	keys           *keyring.Keyring
	logger         cmtlog.Logger
	confirmTimeout time.Duration
}

// CreateResult is the outcome of a confirmed contract creation.
type CreateResult struct {
	ContractID  uint64 `json:"contract_id"`
	TxHash      string `json:"tx_hash"`
	BlockHeight int64  `json:"block_height"`
}

// SignResult is the outcome of a confirmed buyer signature.
type SignResult struct {
	Settled     bool   `json:"settled"`
	TotalValue  uint64 `json:"total_value"`
	TxHash      string `json:"tx_hash"`
	BlockHeight int64  `json:"block_height"`
}

// New wires the contract service.
func New(l Ledger, seq *sequencer.Sequencer, rec *reconciler.Reconciler, store mirror.Store, keys *keyring.Keyring, confirmTimeout time.Duration, logger cmtlog.Logger) *ContractService {
	return &ContractService{
		ledger:         l,
		seq:            seq,
		rec:            rec,
		store:          store,
		keys:           keys,
		logger:         logger,
		confirmTimeout: confirmTimeout,
	}
}

// CreateContract validates the inputs, submits a create_contract transaction
// signed by the farmer and waits for confirmation. On a confirmation timeout
// the returned error carries the transaction hash: the outcome is unknown
// and retrying would mint a duplicate contract, so the caller must reconcile
// via GetContract or event replay instead.
func (s *ContractService) CreateContract(ctx context.Context, farmer, commodity string, quantity, pricePerUnit uint64, deliveryDate time.Time) (*CreateResult, error) {
	if commodity == "" {
		return nil, validationError("commodity must not be empty")
	}
	if quantity == 0 {
		return nil, validationError("quantity must be positive")
	}
	if pricePerUnit == 0 {
		return nil, validationError("price per unit must be positive")
	}
	if !deliveryDate.After(time.Now()) {
		return nil, validationError("delivery date must be in the future")
	}

	payload := ledger.CreateContractPayload{
		Commodity:    commodity,
		Quantity:     quantity,
		PricePerUnit: pricePerUnit,
		DeliveryDate: deliveryDate.Unix(),
	}
	receipt, svcErr := s.submit(ctx, farmer, ledger.TxCreateContract, payload)
	if svcErr != nil {
		return nil, svcErr
	}

	result := &CreateResult{TxHash: receipt.Hash, BlockHeight: receipt.Height}
	for _, ev := range receipt.Events {
		if ev.Kind == ledger.EventContractCreated {
			result.ContractID = ev.ContractID
			break
		}
	}
	return result, nil
}

// SignAsBuyer submits a sign_contract transaction for the buyer. Requests
// the mirror can already prove hopeless are rejected without a network round
// trip; the ledger program remains the final arbiter for races the mirror
// has not seen yet.
func (s *ContractService) SignAsBuyer(ctx context.Context, buyer string, id uint64) (*SignResult, error) {
	if id == 0 {
		return nil, validationError("contract id must be positive")
	}

	if cached, err := s.store.Get(id); err == nil && cached != nil {
		if cached.Farmer == buyer {
			return nil, unauthorizedError("farmer cannot sign as buyer on own contract")
		}
		if cached.Buyer != "" {
			return nil, &Error{
				Code:    ErrCodeRejectedByNode,
				Message: "contract already has a buyer",
				Detail:  cached.Buyer,
			}
		}
	}

	payload := ledger.SignContractPayload{ContractID: id}
	receipt, svcErr := s.submit(ctx, buyer, ledger.TxSignContract, payload)
	if svcErr != nil {
		return nil, svcErr
	}

	result := &SignResult{TxHash: receipt.Hash, BlockHeight: receipt.Height}
	for _, ev := range receipt.Events {
		if ev.Kind == ledger.EventContractSettled {
			result.Settled = true
			result.TotalValue = ev.TotalValue
		}
	}
	return result, nil
}

// GetContract serves a record from the mirror, falling back to a direct
// ledger read when the mirror has no entry or the caller asks for strong
// consistency.
func (s *ContractService) GetContract(ctx context.Context, id uint64, strong bool) (*ledger.Contract, error) {
	if !strong {
		if cached, err := s.store.Get(id); err == nil && cached != nil {
			return cached, nil
		}
	}

	c, err := s.ledger.GetContract(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	if c == nil {
		return nil, notFoundError("contract does not exist")
	}
	return c, nil
}

// ListByFarmer returns the address's created contracts in ascending creation
// order, from the mirror's secondary index.
func (s *ContractService) ListByFarmer(_ context.Context, addr string) ([]*ledger.Contract, error) {
	contracts, err := s.store.ListByFarmer(addr)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "mirror read failed", Detail: err.Error()}
	}
	return contracts, nil
}

// ListByBuyer is the buyer-side counterpart of ListByFarmer.
func (s *ContractService) ListByBuyer(_ context.Context, addr string) ([]*ledger.Contract, error) {
	contracts, err := s.store.ListByBuyer(addr)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "mirror read failed", Detail: err.Error()}
	}
	return contracts, nil
}

// Status probes the ledger node. Read-only, never mutates state.
func (s *ContractService) Status(ctx context.Context) (*client.NodeStatus, error) {
	status, err := s.ledger.Status(ctx)
	if err != nil {
		return nil, s.translate(err)
	}
	return status, nil
}

// submit runs the shared pipeline: key lookup, sequence lease, fee estimate,
// sign, submit, confirm, reconcile.
func (s *ContractService) submit(ctx context.Context, signer string, kind ledger.TxKind, payload any) (*client.Receipt, *Error) {
	priv, ok := s.keys.Get(signer)
	if !ok {
		return nil, unauthorizedError("no signing key held for " + signer)
	}

	lease, err := s.seq.Acquire(ctx, signer)
	if err != nil {
		return nil, s.translate(err)
	}
	committed := false
	defer func() { lease.Release(committed) }()

	tx, err := ledger.NewTx(priv, kind, lease.Nonce(), payload)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "failed to build transaction", Detail: err.Error()}
	}
	raw, err := tx.Encode()
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "failed to encode transaction", Detail: err.Error()}
	}

	fee, err := s.ledger.EstimateFee(ctx, raw)
	if err != nil {
		return nil, s.translate(err)
	}
	s.logger.Debug("Submitting transaction", "kind", kind, "signer", signer, "nonce", lease.Nonce(), "fee", fee)

	handle, err := s.ledger.Submit(ctx, raw)
	if err != nil {
		return nil, s.translate(err)
	}

	receipt, err := s.ledger.AwaitConfirmation(ctx, handle, s.confirmTimeout)
	if err != nil {
		// The signed payload is never reused after a timeout; only the
		// handle survives, for out-of-band polling.
		return nil, s.translate(err)
	}
	committed = true

	if applyErr := s.rec.Apply(receipt.Events); applyErr != nil {
		s.logger.Error("Failed to apply receipt events to mirror", "err", applyErr)
	}
	return receipt, nil
}

// translate maps transport-layer errors onto the service taxonomy. The
// specific kind always survives; an indeterminate outcome is never presented
// as a definite success or failure.
func (s *ContractService) translate(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}

	var timeoutErr *client.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &Error{
			Code:    ErrCodeConfirmationTimeout,
			Message: "confirmation not observed within timeout, outcome unknown",
			TxHash:  timeoutErr.Handle.String(),
		}
	}

	var rejErr *client.RejectionError
	if errors.As(err, &rejErr) {
		switch rejErr.Code {
		case ledger.CodeUnauthorized:
			return &Error{Code: ErrCodeUnauthorizedSigner, Message: "signer not entitled to perform this action", Detail: rejErr.Log}
		case ledger.CodeNotFound:
			return &Error{Code: ErrCodeNotFound, Message: "contract does not exist", Detail: rejErr.Log}
		case ledger.CodeInvalidInput:
			return &Error{Code: ErrCodeValidation, Message: "ledger rejected input", Detail: rejErr.Log}
		default:
			return &Error{Code: ErrCodeRejectedByNode, Message: "transaction rejected", Detail: rejErr.Log}
		}
	}

	if errors.Is(err, client.ErrLedgerUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrCodeLedgerUnavailable, Message: "ledger node unreachable", Detail: err.Error()}
	}

	return &Error{Code: ErrCodeInternal, Message: "unexpected error", Detail: err.Error()}
}
