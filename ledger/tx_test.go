package ledger

import (
	"encoding/json"
	"testing"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTxSignsAndVerifies(t *testing.T) {
	priv := ed25519.GenPrivKey()
	payload := CreateContractPayload{
		Commodity:    "Soybean",
		Quantity:     100,
		PricePerUnit: 500000,
		DeliveryDate: 1900000000,
	}

	tx, err := NewTx(priv, TxCreateContract, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(priv.PubKey().(ed25519.PubKey)), tx.Signer)

	code, err := tx.Verify()
	require.NoError(t, err)
	assert.Equal(t, CodeOK, code)

	decoded, err := tx.CreatePayload()
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	priv := ed25519.GenPrivKey()
	tx, err := NewTx(priv, TxSignContract, 3, SignContractPayload{ContractID: 7})
	require.NoError(t, err)

	raw, err := tx.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTx(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Signer, decoded.Signer)
	assert.Equal(t, uint64(3), decoded.Nonce)

	code, err := decoded.Verify()
	require.NoError(t, err)
	assert.Equal(t, CodeOK, code)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv := ed25519.GenPrivKey()
	tx, err := NewTx(priv, TxSignContract, 0, SignContractPayload{ContractID: 1})
	require.NoError(t, err)

	tx.Payload, _ = json.Marshal(SignContractPayload{ContractID: 2})

	code, err := tx.Verify()
	assert.Equal(t, CodeBadSignature, code)
	assert.Error(t, err)
}

func TestVerifyRejectsSignerMismatch(t *testing.T) {
	priv := ed25519.GenPrivKey()
	other := ed25519.GenPrivKey()
	tx, err := NewTx(priv, TxSignContract, 0, SignContractPayload{ContractID: 1})
	require.NoError(t, err)

	tx.Signer = AddressOf(other.PubKey().(ed25519.PubKey))

	code, err := tx.Verify()
	assert.Equal(t, CodeBadSignature, code)
	assert.Error(t, err)
}

func TestDecodeTxRejectsUnknownKind(t *testing.T) {
	_, err := DecodeTx([]byte(`{"kind":"transfer","signer":"abc"}`))
	assert.Error(t, err)

	_, err = DecodeTx([]byte(`not even json`))
	assert.Error(t, err)
}

func TestFeeEstimate(t *testing.T) {
	fee := DefaultFeeSchedule.Estimate(100)
	assert.Equal(t, uint64(1000+10*100), fee)
}
