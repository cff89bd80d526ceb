// Package client wraps the CometBFT RPC surface with the operations the
// contract service needs: fee estimation, submission, confirmation polling,
// event fetching and state reads. The wrapper is stateless; retry decisions
// for writes belong to the caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/ahmadzakiakmal/agroforward/ledger"
)

// RPC is the narrow slice of the CometBFT client interface the wrapper uses.
// Both rpc/client/local.Local and rpc/client/http.HTTP satisfy it.
type RPC interface {
	Status(ctx context.Context) (*cmtrpctypes.ResultStatus, error)
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error)
	BroadcastTxSync(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTx, error)
	Tx(ctx context.Context, hash []byte, prove bool) (*cmtrpctypes.ResultTx, error)
	BlockResults(ctx context.Context, height *int64) (*cmtrpctypes.ResultBlockResults, error)
}

// TxHandle identifies a submitted transaction so its outcome can be resolved
// later, including out-of-band after a confirmation timeout.
type TxHandle struct {
	Hash cmtbytes.HexBytes `json:"hash"`
}

func (h TxHandle) String() string {
	return h.Hash.String()
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	Hash   string
	Height int64
	Code   uint32
	Log    string
	Events []ledger.Event
}

// NodeStatus is the liveness view served by the status probe.
type NodeStatus struct {
	Connected      bool   `json:"connected"`
	LatestHeight   int64  `json:"latest_height"`
	TotalContracts uint64 `json:"total_contracts"`
	NodeID         string `json:"node_id,omitempty"`
}

// Client is the ledger-facing client.
type Client struct {
	rpc          RPC
	queryTimeout time.Duration
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithQueryTimeout bounds every single read round trip.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Client) { c.queryTimeout = d }
}

// WithPollInterval sets the confirmation polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// New creates a ledger client on top of an RPC connection.
func New(rpc RPC, opts ...Option) *Client {
	c := &Client{
		rpc:          rpc,
		queryTimeout: 10 * time.Second,
		pollInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateFee asks the node for its fee schedule and prices the payload.
func (c *Client) EstimateFee(ctx context.Context, payload []byte) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	res, err := c.rpc.ABCIQuery(ctx, "fee", nil)
	if err != nil {
		return 0, unavailable("fee estimation failed", err)
	}
	var schedule ledger.FeeSchedule
	if err := json.Unmarshal(res.Response.Value, &schedule); err != nil {
		return 0, unavailable("fee schedule unreadable", err)
	}
	return schedule.Estimate(len(payload)), nil
}

// Submit broadcasts a signed transaction. A synchronous rejection by the node
// is terminal for this payload; the caller must build a fresh one before any
// retry. Submit itself never retries: resubmitting could duplicate a write.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (TxHandle, error) {
	res, err := c.rpc.BroadcastTxSync(ctx, cmttypes.Tx(signedTx))
	if err != nil {
		return TxHandle{}, unavailable("transaction broadcast failed", err)
	}
	if res.Code != ledger.CodeOK {
		return TxHandle{}, rejected(res.Code, res.Log)
	}
	return TxHandle{Hash: res.Hash}, nil
}

// AwaitConfirmation polls until the transaction is included in a block or the
// timeout elapses. A timeout means the outcome is unknown, not that the write
// failed: the transaction may still land, and the handle stays valid for
// later polling. An included transaction with a non-zero execution code is a
// definite rejection.
func (c *Client) AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.rpc.Tx(ctx, handle.Hash, false)
		if err == nil {
			receipt := &Receipt{
				Hash:   handle.Hash.String(),
				Height: res.Height,
				Code:   res.TxResult.Code,
				Log:    res.TxResult.Log,
				Events: ledger.ParseEvents(res.Height, res.TxResult.Events),
			}
			if receipt.Code != ledger.CodeOK {
				return receipt, rejected(receipt.Code, receipt.Log)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, confirmationTimeout(handle)
		case <-ticker.C:
		}
	}
}

// FetchEvents returns every program event emitted in the block range,
// inclusive on both ends, in block and intra-block order. The read is
// idempotent, so transient node errors are retried with backoff.
func (c *Client) FetchEvents(ctx context.Context, fromBlock, toBlock int64) ([]ledger.Event, error) {
	var events []ledger.Event
	for height := fromBlock; height <= toBlock; height++ {
		h := height
		var res *cmtrpctypes.ResultBlockResults
		err := retry.Do(
			func() error {
				qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
				defer cancel()
				var err error
				res, err = c.rpc.BlockResults(qctx, &h)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("block results unavailable at height %d", h), err)
		}

		for _, txResult := range res.TxResults {
			if txResult.Code != ledger.CodeOK {
				continue
			}
			events = append(events, ledger.ParseEvents(h, txResult.Events)...)
		}
	}
	return events, nil
}

// GetContract reads a record directly from the ledger, bypassing any mirror.
func (c *Client) GetContract(ctx context.Context, id uint64) (*ledger.Contract, error) {
	res, err := c.query(ctx, fmt.Sprintf("contract/%d", id))
	if err != nil {
		return nil, err
	}
	if res.Code == ledger.CodeNotFound {
		return nil, nil
	}
	if res.Code != ledger.CodeOK {
		return nil, rejected(res.Code, res.Log)
	}
	var contract ledger.Contract
	if err := json.Unmarshal(res.Value, &contract); err != nil {
		return nil, unavailable("contract record unreadable", err)
	}
	return &contract, nil
}

// TotalContracts returns the highest assigned contract id.
func (c *Client) TotalContracts(ctx context.Context) (uint64, error) {
	res, err := c.query(ctx, "total")
	if err != nil {
		return 0, err
	}
	var total uint64
	if err := json.Unmarshal(res.Value, &total); err != nil {
		return 0, unavailable("total unreadable", err)
	}
	return total, nil
}

// AccountNonce returns the next expected sequence number for an address. The
// sequencer refreshes from this on every lease acquisition.
func (c *Client) AccountNonce(ctx context.Context, addr string) (uint64, error) {
	res, err := c.query(ctx, "nonce/"+addr)
	if err != nil {
		return 0, err
	}
	var nonce uint64
	if err := json.Unmarshal(res.Value, &nonce); err != nil {
		return 0, unavailable("nonce unreadable", err)
	}
	return nonce, nil
}

// Status reports node reachability and the contract count. Read-only.
func (c *Client) Status(ctx context.Context) (*NodeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	status, err := c.rpc.Status(ctx)
	if err != nil {
		return &NodeStatus{Connected: false}, nil
	}
	out := &NodeStatus{
		Connected:    true,
		LatestHeight: status.SyncInfo.LatestBlockHeight,
		NodeID:       string(status.NodeInfo.ID()),
	}
	if total, err := c.TotalContracts(ctx); err == nil {
		out.TotalContracts = total
	}
	return out, nil
}

// LatestHeight returns the node's latest committed block height.
func (c *Client) LatestHeight(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	status, err := c.rpc.Status(ctx)
	if err != nil {
		return 0, unavailable("status unavailable", err)
	}
	return status.SyncInfo.LatestBlockHeight, nil
}

func (c *Client) query(ctx context.Context, path string) (*abcitypes.QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	res, err := c.rpc.ABCIQuery(ctx, path, nil)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("query %q failed", path), err)
	}
	return &res.Response, nil
}
