package models

import "time"

// ContractRecord is the mirrored on-chain contract row. The mirror is
// rebuilt from ledger events and never authoritative; the ledger program is.
type ContractRecord struct {
	ID           uint64    `gorm:"column:contract_id;primaryKey"`
	Farmer       string    `gorm:"column:farmer;type:varchar(64);index;not null"`
	Buyer        string    `gorm:"column:buyer;type:varchar(64);index"`
	Commodity    string    `gorm:"column:commodity;type:varchar(100);not null"`
	Quantity     uint64    `gorm:"column:quantity;not null"`
	PricePerUnit uint64    `gorm:"column:price_per_unit;not null"`
	DeliveryDate int64     `gorm:"column:delivery_date;not null"`
	FarmerSigned bool      `gorm:"column:farmer_signed;default:false"`
	BuyerSigned  bool      `gorm:"column:buyer_signed;default:false"`
	Settled      bool      `gorm:"column:settled;default:false"`
	CreatedAt    int64     `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// SyncCursor is the single-row table tracking the last block height whose
// events have been fully applied to the mirror.
type SyncCursor struct {
	ID     uint      `gorm:"column:id;primaryKey"`
	Height int64     `gorm:"column:height;not null;default:0"`
	Synced time.Time `gorm:"column:synced;autoUpdateTime"`
}
