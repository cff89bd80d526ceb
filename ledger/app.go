package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

// Application is the ForwardContract program: an ABCI application holding the
// authoritative record of every forward contract and emitting lifecycle
// events. State lives in badger; every block is applied in a single badger
// transaction committed at ABCI Commit.
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	nodeID       string
	mu           sync.Mutex
	logger       cmtlog.Logger
}

// NewApplication creates the ForwardContract ABCI application.
func NewApplication(badgerDB *badger.DB, logger cmtlog.Logger) *Application {
	return &Application{
		badgerDB: badgerDB,
		logger:   logger,
	}
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Info implements the ABCI Info method.
func (app *Application) Info(_ context.Context, _ *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastHeight))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		err = item.Value(func(val []byte) error {
			lastBlockHeight = bytesToInt64(val)
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte(keyLastAppHash))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			err = item.Value(func(val []byte) error {
				lastBlockAppHash = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		app.logger.Error("Failed to read last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. Supported paths:
//
//	contract/<id>  full record
//	total          highest assigned id
//	farmer/<addr>  ids created by the address, ascending
//	buyer/<addr>   ids bought by the address, ascending
//	nonce/<addr>   next expected sequence number
//	fee            fee schedule
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	var resp abcitypes.QueryResponse

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		st := &state{txn: txn}

		switch {
		case req.Path == "total":
			total, err := st.totalContracts()
			if err != nil {
				return err
			}
			resp.Value, _ = json.Marshal(total)

		case req.Path == "fee":
			resp.Value, _ = json.Marshal(DefaultFeeSchedule)

		case strings.HasPrefix(req.Path, "contract/"):
			id, err := strconv.ParseUint(strings.TrimPrefix(req.Path, "contract/"), 10, 64)
			if err != nil {
				resp.Code = CodeMalformedTx
				resp.Log = "invalid contract id"
				return nil
			}
			c, err := st.getContract(id)
			if err != nil {
				return err
			}
			if c == nil {
				resp.Code = CodeNotFound
				resp.Log = fmt.Sprintf("contract %d does not exist", id)
				return nil
			}
			resp.Value, _ = json.Marshal(c)

		case strings.HasPrefix(req.Path, "farmer/"):
			ids, err := st.contractIndex(prefixFarmerIdx, strings.TrimPrefix(req.Path, "farmer/"))
			if err != nil {
				return err
			}
			resp.Value, _ = json.Marshal(ids)

		case strings.HasPrefix(req.Path, "buyer/"):
			ids, err := st.contractIndex(prefixBuyerIdx, strings.TrimPrefix(req.Path, "buyer/"))
			if err != nil {
				return err
			}
			resp.Value, _ = json.Marshal(ids)

		case strings.HasPrefix(req.Path, "nonce/"):
			nonce, err := st.accountNonce(strings.TrimPrefix(req.Path, "nonce/"))
			if err != nil {
				return err
			}
			resp.Value, _ = json.Marshal(nonce)

		default:
			resp.Code = CodeMalformedTx
			resp.Log = fmt.Sprintf("unknown query path %q", req.Path)
		}
		return nil
	})
	if err != nil {
		return &abcitypes.QueryResponse{
			Code: CodeInternal,
			Log:  fmt.Sprintf("state read failed: %v", err),
		}, nil
	}

	return &resp, nil
}

// CheckTx implements the ABCI CheckTx method. It rejects what a node can
// reject without contract state: malformed envelopes, bad signatures, stale
// sequence numbers and statically invalid inputs. State-dependent
// preconditions are enforced during execution so racing transactions resolve
// by block order, not mempool luck.
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	tx, err := DecodeTx(check.Tx)
	if err != nil {
		return &abcitypes.CheckTxResponse{Code: CodeMalformedTx, Log: err.Error()}, nil
	}
	if code, err := tx.Verify(); code != CodeOK {
		return &abcitypes.CheckTxResponse{Code: code, Log: err.Error()}, nil
	}

	var expected uint64
	dbErr := app.badgerDB.View(func(txn *badger.Txn) error {
		st := &state{txn: txn}
		var err error
		expected, err = st.accountNonce(tx.Signer)
		return err
	})
	if dbErr != nil {
		return &abcitypes.CheckTxResponse{Code: CodeInternal, Log: dbErr.Error()}, nil
	}
	if tx.Nonce < expected {
		return &abcitypes.CheckTxResponse{
			Code: CodeNonceConflict,
			Log:  fmt.Sprintf("nonce %d already used, expected %d", tx.Nonce, expected),
		}, nil
	}

	if tx.Kind == TxCreateContract {
		p, err := tx.CreatePayload()
		if err != nil {
			return &abcitypes.CheckTxResponse{Code: CodeMalformedTx, Log: err.Error()}, nil
		}
		if p.Commodity == "" || p.Quantity == 0 || p.PricePerUnit == 0 {
			return &abcitypes.CheckTxResponse{
				Code: CodeInvalidInput,
				Log:  "commodity, quantity and price per unit must all be set",
			}, nil
		}
	}

	return &abcitypes.CheckTxResponse{Code: CodeOK}, nil
}

// InitChain implements the ABCI InitChain method.
func (app *Application) InitChain(_ context.Context, _ *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method.
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, txBytes := range proposal.Txs {
		tx, err := DecodeTx(txBytes)
		if err != nil {
			app.logger.Error("Rejecting proposal with malformed transaction", "index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
		if code, err := tx.Verify(); code != CodeOK {
			app.logger.Error("Rejecting proposal with unverifiable transaction", "index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method. Each transaction is
// executed against the block's badger transaction; a transaction that fails a
// state precondition still consumes its sequence number, exactly as an
// included-but-reverted operation would.
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	st := &state{txn: app.onGoingBlock}
	blockTime := req.Time.Unix()

	for i, txBytes := range req.Txs {
		txResults[i] = app.execTx(st, txBytes, blockTime)
	}

	appHash := calculateAppHash(txResults)
	if err := app.onGoingBlock.Set([]byte(keyLastHeight), int64ToBytes(req.Height)); err != nil {
		app.logger.Error("Failed to store block height", "err", err)
	}
	if err := app.onGoingBlock.Set([]byte(keyLastAppHash), appHash); err != nil {
		app.logger.Error("Failed to store app hash", "err", err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// execTx applies one transaction to the ongoing block state.
func (app *Application) execTx(st *state, txBytes []byte, blockTime int64) *abcitypes.ExecTxResult {
	tx, err := DecodeTx(txBytes)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: CodeMalformedTx, Log: err.Error()}
	}
	if code, err := tx.Verify(); code != CodeOK {
		return &abcitypes.ExecTxResult{Code: code, Log: err.Error()}
	}

	expected, err := st.accountNonce(tx.Signer)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: CodeInternal, Log: err.Error()}
	}
	if tx.Nonce != expected {
		return &abcitypes.ExecTxResult{
			Code: CodeNonceConflict,
			Log:  fmt.Sprintf("nonce %d out of order, expected %d", tx.Nonce, expected),
		}
	}
	// The envelope is valid and ordered: the sequence number is consumed
	// regardless of whether the operation below succeeds.
	if err := st.setAccountNonce(tx.Signer, expected+1); err != nil {
		return &abcitypes.ExecTxResult{Code: CodeInternal, Log: err.Error()}
	}

	var (
		events []abcitypes.Event
		code   uint32
		log    string
	)
	switch tx.Kind {
	case TxCreateContract:
		p, err := tx.CreatePayload()
		if err != nil {
			return &abcitypes.ExecTxResult{Code: CodeMalformedTx, Log: err.Error()}
		}
		events, code, log = st.execCreateContract(tx.Signer, p, blockTime)
	case TxSignContract:
		p, err := tx.SignPayload()
		if err != nil {
			return &abcitypes.ExecTxResult{Code: CodeMalformedTx, Log: err.Error()}
		}
		events, code, log = st.execSignContract(tx.Signer, p)
	}

	if code != CodeOK {
		app.logger.Info("Transaction reverted", "signer", tx.Signer, "kind", tx.Kind, "code", code, "log", log)
		return &abcitypes.ExecTxResult{Code: code, Log: log}
	}

	return &abcitypes.ExecTxResult{
		Code:   CodeOK,
		Data:   txResultData(events),
		Log:    log,
		Events: events,
	}
}

// Commit implements the ABCI Commit method.
func (app *Application) Commit(_ context.Context, _ *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := app.onGoingBlock.Commit(); err != nil {
		app.logger.Error("Failed to commit block", "err", err)
	}
	return &abcitypes.CommitResponse{}, nil
}

// Placeholder implementations for the remaining ABCI methods.
func (app *Application) ListSnapshots(_ context.Context, _ *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

func (app *Application) OfferSnapshot(_ context.Context, _ *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

func (app *Application) LoadSnapshotChunk(_ context.Context, _ *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

func (app *Application) ApplySnapshotChunk(_ context.Context, _ *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

func (app *Application) ExtendVote(_ context.Context, _ *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

func (app *Application) VerifyVoteExtension(_ context.Context, _ *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper functions

// txResultData packs the contract id of the first event into the result data
// so a caller holding only the receipt can learn the assigned id.
func txResultData(events []abcitypes.Event) []byte {
	for _, ev := range events {
		for _, attr := range ev.Attributes {
			if attr.Key == "contract_id" {
				return []byte(attr.Value)
			}
		}
	}
	return nil
}

// calculateAppHash calculates the application hash for the current block.
func calculateAppHash(txResults []*abcitypes.ExecTxResult) []byte {
	allData := make([]byte, 0)
	for _, result := range txResults {
		allData = append(allData, result.Data...)
	}
	hash := sha256.Sum256(allData)
	return hash[:]
}

// int64ToBytes converts an int64 to big-endian bytes.
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	for n := 0; n < 8; n++ {
		buf[n] = byte(i >> (56 - 8*n))
	}
	return buf
}

// bytesToInt64 converts big-endian bytes to an int64.
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	var i int64
	for n := 0; n < 8; n++ {
		i |= int64(buf[n]) << (56 - 8*n)
	}
	return i
}
