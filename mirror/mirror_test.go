package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/agroforward/ledger"
)

func sample(id uint64, farmer string) *ledger.Contract {
	return &ledger.Contract{
		ID:           id,
		Farmer:       farmer,
		Commodity:    "Soybean",
		Quantity:     100,
		PricePerUnit: 500000,
		DeliveryDate: 1900000000,
		FarmerSigned: true,
		CreatedAt:    1756600000,
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Put(sample(1, "farmerA")))

	c, err := m.Get(1)
	require.NoError(t, err)
	require.NotNil(t, c)

	c.Settled = true

	again, err := m.Get(1)
	require.NoError(t, err)
	assert.False(t, again.Settled)
}

func TestGetUnknownID(t *testing.T) {
	m := NewMemoryStore()
	c, err := m.Get(99)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestFarmerIndexAscendingAndDedup(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Put(sample(2, "farmerA")))
	require.NoError(t, m.Put(sample(1, "farmerA")))
	require.NoError(t, m.Put(sample(3, "farmerB")))
	require.NoError(t, m.Put(sample(1, "farmerA"))) // re-apply

	list, err := m.ListByFarmer("farmerA")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].ID)
	assert.Equal(t, uint64(2), list[1].ID)

	list, err = m.ListByFarmer("nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBuyerIndexedWhenBuyerAppears(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Put(sample(1, "farmerA")))

	list, err := m.ListByBuyer("buyerX")
	require.NoError(t, err)
	assert.Empty(t, list)

	settled := sample(1, "farmerA")
	settled.Buyer = "buyerX"
	settled.BuyerSigned = true
	settled.Settled = true
	require.NoError(t, m.Put(settled))

	list, err = m.ListByBuyer("buyerX")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Settled)

	// Re-applying the settled record must not duplicate the index entry.
	require.NoError(t, m.Put(settled))
	list, err = m.ListByBuyer("buyerX")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCursorOnlyAdvances(t *testing.T) {
	m := NewMemoryStore()

	cursor, err := m.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	require.NoError(t, m.SetCursor(10))
	require.NoError(t, m.SetCursor(5))

	cursor, err = m.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor)
}
