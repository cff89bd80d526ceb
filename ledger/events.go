package ledger

import (
	"strconv"

	abcitypes "github.com/cometbft/cometbft/abci/types"
)

// Event kinds emitted by the ForwardContract program. The attribute schema is
// part of the program's external contract; consumers replay these into their
// own views.
const (
	EventContractCreated = "contract_created"
	EventContractSigned  = "contract_signed"
	EventContractSettled = "contract_settled"
)

// Signer roles carried on contract_signed events.
const (
	RoleFarmer = "FARMER"
	RoleBuyer  = "BUYER"
)

// Event is the decoded form of a ForwardContract lifecycle event. Only the
// fields relevant to the kind are populated.
type Event struct {
	Kind   string
	Height int64

	ContractID uint64

	// contract_created
	Farmer       string
	Commodity    string
	Quantity     uint64
	PricePerUnit uint64
	DeliveryDate int64
	CreatedAt    int64

	// contract_signed
	Signer string
	Role   string

	// contract_settled
	Buyer      string
	TotalValue uint64
}

// CreatedEvent builds the contract_created event for a new record.
func CreatedEvent(c *Contract) abcitypes.Event {
	return abcitypes.Event{
		Type: EventContractCreated,
		Attributes: []abcitypes.EventAttribute{
			{Key: "contract_id", Value: strconv.FormatUint(c.ID, 10), Index: true},
			{Key: "farmer", Value: c.Farmer, Index: true},
			{Key: "commodity", Value: c.Commodity, Index: false},
			{Key: "quantity", Value: strconv.FormatUint(c.Quantity, 10), Index: false},
			{Key: "price_per_unit", Value: strconv.FormatUint(c.PricePerUnit, 10), Index: false},
			{Key: "delivery_date", Value: strconv.FormatInt(c.DeliveryDate, 10), Index: false},
			{Key: "created_at", Value: strconv.FormatInt(c.CreatedAt, 10), Index: false},
		},
	}
}

// SignedEvent builds the contract_signed event for either party's signature.
func SignedEvent(id uint64, signer, role string) abcitypes.Event {
	return abcitypes.Event{
		Type: EventContractSigned,
		Attributes: []abcitypes.EventAttribute{
			{Key: "contract_id", Value: strconv.FormatUint(id, 10), Index: true},
			{Key: "signer", Value: signer, Index: true},
			{Key: "signer_role", Value: role, Index: false},
		},
	}
}

// SettledEvent builds the contract_settled event emitted in the same
// operation as the buyer's signature.
func SettledEvent(c *Contract) abcitypes.Event {
	return abcitypes.Event{
		Type: EventContractSettled,
		Attributes: []abcitypes.EventAttribute{
			{Key: "contract_id", Value: strconv.FormatUint(c.ID, 10), Index: true},
			{Key: "farmer", Value: c.Farmer, Index: true},
			{Key: "buyer", Value: c.Buyer, Index: true},
			{Key: "total_value", Value: strconv.FormatUint(c.TotalValue(), 10), Index: false},
		},
	}
}

// ParseEvent decodes an ABCI event emitted by the program. The second return
// is false for event types the program does not emit.
func ParseEvent(height int64, ev abcitypes.Event) (Event, bool) {
	if ev.Type != EventContractCreated && ev.Type != EventContractSigned && ev.Type != EventContractSettled {
		return Event{}, false
	}

	out := Event{Kind: ev.Type, Height: height}
	for _, attr := range ev.Attributes {
		switch attr.Key {
		case "contract_id":
			out.ContractID, _ = strconv.ParseUint(attr.Value, 10, 64)
		case "farmer":
			out.Farmer = attr.Value
		case "buyer":
			out.Buyer = attr.Value
		case "signer":
			out.Signer = attr.Value
		case "signer_role":
			out.Role = attr.Value
		case "commodity":
			out.Commodity = attr.Value
		case "quantity":
			out.Quantity, _ = strconv.ParseUint(attr.Value, 10, 64)
		case "price_per_unit":
			out.PricePerUnit, _ = strconv.ParseUint(attr.Value, 10, 64)
		case "delivery_date":
			out.DeliveryDate, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "created_at":
			out.CreatedAt, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "total_value":
			out.TotalValue, _ = strconv.ParseUint(attr.Value, 10, 64)
		}
	}
	return out, true
}

// ParseEvents decodes every program event in a slice of ABCI events,
// preserving order.
func ParseEvents(height int64, evs []abcitypes.Event) []Event {
	var out []Event
	for _, ev := range evs {
		if parsed, ok := ParseEvent(height, ev); ok {
			out = append(out, parsed)
		}
	}
	return out
}
