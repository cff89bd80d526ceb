package ledger

// Result codes returned by the ForwardContract program. Codes are part of the
// program's external contract: clients map them to their own error kinds.
const (
	CodeOK            uint32 = 0
	CodeMalformedTx   uint32 = 1
	CodeBadSignature  uint32 = 2
	CodeNonceConflict uint32 = 3
	CodeInvalidInput  uint32 = 4
	CodeNotFound      uint32 = 5
	CodeUnauthorized  uint32 = 6
	CodeAlreadyBought uint32 = 7
	CodeInternal      uint32 = 8
)

// Contract is the on-chain forward contract record. IDs are assigned
// monotonically starting at 1; 0 means "no contract".
type Contract struct {
	ID           uint64 `json:"id"`
	Farmer       string `json:"farmer"`
	Buyer        string `json:"buyer,omitempty"`
	Commodity    string `json:"commodity"`
	Quantity     uint64 `json:"quantity"`
	PricePerUnit uint64 `json:"price_per_unit"`
	DeliveryDate int64  `json:"delivery_date"`
	FarmerSigned bool   `json:"farmer_signed"`
	BuyerSigned  bool   `json:"buyer_signed"`
	Settled      bool   `json:"settled"`
	CreatedAt    int64  `json:"created_at"`
}

// TotalValue is the notional value of the agreement.
func (c *Contract) TotalValue() uint64 {
	return c.Quantity * c.PricePerUnit
}

// Status reports the lifecycle stage as a display string.
func (c *Contract) Status() string {
	switch {
	case c.Settled:
		return "SETTLED"
	case c.FarmerSigned && c.BuyerSigned:
		return "SIGNED_BY_BOTH"
	case c.FarmerSigned:
		return "WAITING_FOR_BUYER"
	default:
		return "PENDING"
	}
}

// FeeSchedule is the flat fee model the node answers on the "fee" query path.
type FeeSchedule struct {
	Base    uint64 `json:"base"`
	PerByte uint64 `json:"per_byte"`
}

// DefaultFeeSchedule is fixed for now. A fee market is out of scope.
var DefaultFeeSchedule = FeeSchedule{Base: 1000, PerByte: 10}

// Estimate returns the fee for a payload of the given size.
func (f FeeSchedule) Estimate(payloadSize int) uint64 {
	return f.Base + f.PerByte*uint64(payloadSize)
}
