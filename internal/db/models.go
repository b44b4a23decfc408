package db

import (
	"time"

	"gorm.io/datatypes"

	"orderrec/internal/ledger"
)

// LedgerRow is one order-line fact. Seq is assigned on insert and defines
// ingestion order; the natural key is unique.
type LedgerRow struct {
	Seq uint `gorm:"primaryKey;autoIncrement"`

	CreatedAt time.Time

	OrderID   int64  `gorm:"uniqueIndex:idx_ledger_key,priority:1;not null"`
	ProductID string `gorm:"uniqueIndex:idx_ledger_key,priority:2;size:64;not null"`
	SKUID     string `gorm:"column:sku_id;uniqueIndex:idx_ledger_key,priority:3;size:64;not null"`

	CustomerID     string    `gorm:"index;size:64;not null"`
	WarehouseID    string    `gorm:"size:64"`
	CustomerAge    int       `gorm:"not null"`
	CustomerGender string    `gorm:"size:16"`
	OrderDate      time.Time `gorm:"index;not null"`
	Category       string    `gorm:"size:128"`
	Quantity       int       `gorm:"not null"`
	UnitPrice      float64   `gorm:"not null"`
}

func (LedgerRow) TableName() string { return "ledger_rows" }

func ledgerRowFrom(l ledger.OrderLine) LedgerRow {
	return LedgerRow{
		OrderID:        l.OrderID,
		ProductID:      l.ProductID,
		SKUID:          l.SKUID,
		CustomerID:     l.CustomerID,
		WarehouseID:    l.WarehouseID,
		CustomerAge:    l.CustomerAge,
		CustomerGender: l.CustomerGender,
		OrderDate:      ledger.Day(l.OrderDate),
		Category:       l.Category,
		Quantity:       l.Quantity,
		UnitPrice:      l.UnitPrice,
	}
}

func (r LedgerRow) line() ledger.OrderLine {
	return ledger.OrderLine{
		OrderID:        r.OrderID,
		ProductID:      r.ProductID,
		SKUID:          r.SKUID,
		CustomerID:     r.CustomerID,
		WarehouseID:    r.WarehouseID,
		CustomerAge:    r.CustomerAge,
		CustomerGender: r.CustomerGender,
		OrderDate:      ledger.Day(r.OrderDate),
		Category:       r.Category,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
	}
}

// OrderHeaderRow is the order-level projection, rebuilt by every
// derivation run.
type OrderHeaderRow struct {
	ID uint `gorm:"primaryKey"`

	OrderID        int64     `gorm:"index;not null"`
	CustomerID     string    `gorm:"index;size:64;not null"`
	WarehouseID    string    `gorm:"size:64"`
	CustomerAge    int       `gorm:"not null"`
	CustomerGender string    `gorm:"size:16"`
	OrderDate      time.Time `gorm:"not null"`
	Recency        int       `gorm:"not null"`
	OrderGap       int       `gorm:"not null"`
}

func (OrderHeaderRow) TableName() string { return "order_headers" }

// LineItemRow is the order-line projection.
type LineItemRow struct {
	ID uint `gorm:"primaryKey"`

	OrderID   int64   `gorm:"index;not null"`
	ProductID string  `gorm:"size:64;not null"`
	SKUID     string  `gorm:"column:sku_id;size:64;not null"`
	Category  string  `gorm:"size:128"`
	Quantity  int     `gorm:"not null"`
	UnitPrice float64 `gorm:"not null"`
	Sales     float64 `gorm:"not null"`
}

func (LineItemRow) TableName() string { return "line_items" }

// ProductRow is the product projection. It also defines the item universe
// recommendations are drawn from.
type ProductRow struct {
	ID uint `gorm:"primaryKey"`

	ProductID string  `gorm:"index;size:64;not null"`
	SKUID     string  `gorm:"column:sku_id;size:64;not null"`
	Category  string  `gorm:"size:128"`
	UnitPrice float64 `gorm:"not null"`
}

func (ProductRow) TableName() string { return "products" }

// CustomerFeatureRow is one row of the customer feature table.
type CustomerFeatureRow struct {
	CustomerID string `gorm:"primaryKey;size:64"`

	TotalSpend        float64 `gorm:"not null"`
	PurchaseFrequency int     `gorm:"not null"`
	AvgBasketSize     float64 `gorm:"not null"`
	CatDiversity      int     `gorm:"not null"`
	Recency           int     `gorm:"not null"`
	Gap               float64 `gorm:"not null"`
	Age               int     `gorm:"not null"`
}

func (CustomerFeatureRow) TableName() string { return "customer_features" }

func (r CustomerFeatureRow) features() ledger.CustomerFeatures {
	return ledger.CustomerFeatures{
		CustomerID:        r.CustomerID,
		TotalSpend:        r.TotalSpend,
		PurchaseFrequency: r.PurchaseFrequency,
		AvgBasketSize:     r.AvgBasketSize,
		CatDiversity:      r.CatDiversity,
		Recency:           r.Recency,
		Gap:               r.Gap,
		Age:               r.Age,
	}
}

// DerivationRun records the outcome of one derivation run.
type DerivationRun struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"index"`

	LedgerRows int `gorm:"not null"`
	Customers  int `gorm:"not null"`

	// Dropped counts malformed rows by reason.
	Dropped datatypes.JSONMap `gorm:"type:json"`
}

// ModelGeneration stores one complete model generation. At most one row is
// active.
type ModelGeneration struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time `gorm:"index"`

	Seed         int64 `gorm:"not null"`
	ClusterCount int   `gorm:"not null"`
	Active       bool  `gorm:"index;not null;default:false"`

	// ClusterSizes maps cluster id to assigned customer count.
	ClusterSizes datatypes.JSONMap `gorm:"type:json"`

	// Bundle is the encoded generation.
	Bundle datatypes.JSON `gorm:"not null"`
}
