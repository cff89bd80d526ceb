// Package repository is the postgres-backed mirror store. It implements
// mirror.Store on top of gorm so the reconciled view survives restarts; the
// in-memory store covers setups without a database.
package repository

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/repository/models"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// Store is the gorm-backed mirror store.
type Store struct {
	db *gorm.DB
}

// NewStore creates an unconnected store.
func NewStore() *Store {
	return &Store{}
}

// ConnectDB establishes the database connection and performs migrations.
// Connection attempts are retried so the node can come up before postgres.
func (s *Store) ConnectDB(dsn string) error {
	for i := range 10 {
		log.Printf("Connection attempt %d...\n", i+1)
		db, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			log.Printf("Connection attempt %d, failed: %v\n", i+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		s.db = db
		break
	}

	if s.db == nil {
		return fmt.Errorf("failed to connect to mirror database")
	}
	if err := s.migrate(); err != nil {
		return err
	}
	log.Println("Connected to mirror DB and completed setup")
	return nil
}

// migrate performs database schema migrations.
func (s *Store) migrate() error {
	migrator := s.db.Migrator()

	if !migrator.HasTable(&models.ContractRecord{}) {
		if err := migrator.CreateTable(&models.ContractRecord{}); err != nil {
			return fmt.Errorf("creating ContractRecord table: %w", err)
		}
	}
	if !migrator.HasTable(&models.SyncCursor{}) {
		if err := migrator.CreateTable(&models.SyncCursor{}); err != nil {
			return fmt.Errorf("creating SyncCursor table: %w", err)
		}
	}

	// Ensure the single cursor row exists.
	cursor := models.SyncCursor{ID: 1}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cursor).Error
	if err != nil {
		pgErr, isPgError := err.(*pgconn.PgError)
		if !isPgError || pgErr.Code != PgErrUniqueViolation {
			return fmt.Errorf("seeding cursor row: %w", err)
		}
	}
	return nil
}

// Get implements mirror.Store.
func (s *Store) Get(id uint64) (*ledger.Contract, error) {
	var row models.ContractRecord
	err := s.db.Where("contract_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying contract %d: %w", id, err)
	}
	return fromRow(&row), nil
}

// Put implements mirror.Store. Upserts by contract id so replaying an
// already-applied event is harmless.
func (s *Store) Put(c *ledger.Contract) error {
	row := toRow(c)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upserting contract %d: %w", c.ID, err)
	}
	return nil
}

// ListByFarmer implements mirror.Store.
func (s *Store) ListByFarmer(addr string) ([]*ledger.Contract, error) {
	return s.list("farmer = ?", addr)
}

// ListByBuyer implements mirror.Store.
func (s *Store) ListByBuyer(addr string) ([]*ledger.Contract, error) {
	return s.list("buyer = ?", addr)
}

func (s *Store) list(cond string, addr string) ([]*ledger.Contract, error) {
	var rows []models.ContractRecord
	err := s.db.Where(cond, addr).Order("contract_id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying contracts for %s: %w", addr, err)
	}
	out := make([]*ledger.Contract, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// Cursor implements mirror.Store.
func (s *Store) Cursor() (int64, error) {
	var cursor models.SyncCursor
	err := s.db.First(&cursor, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}
	return cursor.Height, nil
}

// SetCursor implements mirror.Store.
func (s *Store) SetCursor(height int64) error {
	err := s.db.Model(&models.SyncCursor{}).
		Where("id = ? AND height < ?", 1, height).
		Update("height", height).Error
	if err != nil {
		return fmt.Errorf("advancing sync cursor: %w", err)
	}
	return nil
}

func toRow(c *ledger.Contract) *models.ContractRecord {
	return &models.ContractRecord{
		ID:           c.ID,
		Farmer:       c.Farmer,
		Buyer:        c.Buyer,
		Commodity:    c.Commodity,
		Quantity:     c.Quantity,
		PricePerUnit: c.PricePerUnit,
		DeliveryDate: c.DeliveryDate,
		FarmerSigned: c.FarmerSigned,
		BuyerSigned:  c.BuyerSigned,
		Settled:      c.Settled,
		CreatedAt:    c.CreatedAt,
	}
}

func fromRow(row *models.ContractRecord) *ledger.Contract {
	return &ledger.Contract{
		ID:           row.ID,
		Farmer:       row.Farmer,
		Buyer:        row.Buyer,
		Commodity:    row.Commodity,
		Quantity:     row.Quantity,
		PricePerUnit: row.PricePerUnit,
		DeliveryDate: row.DeliveryDate,
		FarmerSigned: row.FarmerSigned,
		BuyerSigned:  row.BuyerSigned,
		Settled:      row.Settled,
		CreatedAt:    row.CreatedAt,
	}
}
