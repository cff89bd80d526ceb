package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
)

// TxKind discriminates the transaction payload.
type TxKind string

const (
	TxCreateContract TxKind = "create_contract"
	TxSignContract   TxKind = "sign_contract"
)

// CreateContractPayload carries the inputs of a createContract transaction.
// DeliveryDate is a unix timestamp and must lie strictly after block time.
type CreateContractPayload struct {
	Commodity    string `json:"commodity"`
	Quantity     uint64 `json:"quantity"`
	PricePerUnit uint64 `json:"price_per_unit"`
	DeliveryDate int64  `json:"delivery_date"`
}

// SignContractPayload carries the inputs of a signAsBuyer transaction.
type SignContractPayload struct {
	ContractID uint64 `json:"contract_id"`
}

// Tx is the signed transaction envelope accepted by the ForwardContract
// program. Signer must equal the address derived from PubKey, and Nonce must
// equal the signer account's next expected sequence number.
type Tx struct {
	Kind      TxKind          `json:"kind"`
	Signer    string          `json:"signer"`
	Nonce     uint64          `json:"nonce"`
	PubKey    []byte          `json:"pub_key"`
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
}

// signDoc is the canonical portion of the envelope covered by the signature.
type signDoc struct {
	Kind    TxKind          `json:"kind"`
	Signer  string          `json:"signer"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
}

// AddressOf derives the ledger address for a public key.
func AddressOf(pub ed25519.PubKey) string {
	return pub.Address().String()
}

// NewTx builds and signs a transaction envelope.
func NewTx(priv ed25519.PrivKey, kind TxKind, nonce uint64, payload any) (*Tx, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	pub := priv.PubKey().(ed25519.PubKey)
	tx := &Tx{
		Kind:    kind,
		Signer:  AddressOf(pub),
		Nonce:   nonce,
		PubKey:  pub.Bytes(),
		Payload: raw,
	}

	signBytes, err := tx.SignBytes()
	if err != nil {
		return nil, err
	}
	sig, err := priv.Sign(signBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// Encode serializes the envelope for submission.
func (tx *Tx) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTx parses a raw transaction. It performs no verification.
func DecodeTx(raw []byte) (*Tx, error) {
	var tx Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("malformed transaction: %w", err)
	}
	if tx.Kind != TxCreateContract && tx.Kind != TxSignContract {
		return nil, fmt.Errorf("unknown transaction kind %q", tx.Kind)
	}
	return &tx, nil
}

// SignBytes returns the canonical bytes covered by the signature.
func (tx *Tx) SignBytes() ([]byte, error) {
	doc := signDoc{Kind: tx.Kind, Signer: tx.Signer, Nonce: tx.Nonce, Payload: tx.Payload}
	bz, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign doc: %w", err)
	}
	return bz, nil
}

// Verify checks the signature and the signer/public-key binding. It returns a
// result code so callers can surface the exact rejection reason.
func (tx *Tx) Verify() (uint32, error) {
	if len(tx.PubKey) != ed25519.PubKeySize {
		return CodeBadSignature, fmt.Errorf("invalid public key length %d", len(tx.PubKey))
	}
	pub := ed25519.PubKey(tx.PubKey)
	if AddressOf(pub) != tx.Signer {
		return CodeBadSignature, fmt.Errorf("signer %s does not match public key", tx.Signer)
	}
	signBytes, err := tx.SignBytes()
	if err != nil {
		return CodeMalformedTx, err
	}
	if !pub.VerifySignature(signBytes, tx.Signature) {
		return CodeBadSignature, fmt.Errorf("signature verification failed for %s", tx.Signer)
	}
	return CodeOK, nil
}

// CreatePayload decodes the payload of a create_contract envelope.
func (tx *Tx) CreatePayload() (*CreateContractPayload, error) {
	if tx.Kind != TxCreateContract {
		return nil, fmt.Errorf("transaction is %q, not %q", tx.Kind, TxCreateContract)
	}
	var p CreateContractPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed create payload: %w", err)
	}
	return &p, nil
}

// SignPayload decodes the payload of a sign_contract envelope.
func (tx *Tx) SignPayload() (*SignContractPayload, error) {
	if tx.Kind != TxSignContract {
		return nil, fmt.Errorf("transaction is %q, not %q", tx.Kind, TxSignContract)
	}
	var p SignContractPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed sign payload: %w", err)
	}
	return &p, nil
}
