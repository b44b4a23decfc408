// Package ledger defines the order-line ledger: the fact and projection
// types, the natural-key merge, and the contract a durable store fulfils.
//
// The ledger is append-only. A fact whose natural key is already present is
// a duplicate and is ignored; existing rows are never overwritten or
// reordered.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Key is the natural key of an order line.
type Key struct {
	OrderID   int64
	ProductID string
	SKUID     string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s", k.OrderID, k.ProductID, k.SKUID)
}

// OrderLine is one immutable order-line fact.
type OrderLine struct {
	OrderID        int64
	ProductID      string
	SKUID          string
	CustomerID     string
	WarehouseID    string
	CustomerAge    int
	CustomerGender string
	// OrderDate is a calendar date held at UTC midnight.
	OrderDate      time.Time
	Category       string
	Quantity       int
	UnitPrice      float64
}

// Key returns the natural key of the line.
func (o OrderLine) Key() Key {
	return Key{OrderID: o.OrderID, ProductID: o.ProductID, SKUID: o.SKUID}
}

// Amount is quantity times unit price.
func (o OrderLine) Amount() float64 {
	return float64(o.Quantity) * o.UnitPrice
}

// DerivedFact is an order line together with the fields computed from it.
type DerivedFact struct {
	OrderLine
	Sales    float64
	Recency  int
	OrderGap int
}

// OrderHeader is the order-level projection.
type OrderHeader struct {
	OrderID        int64
	CustomerID     string
	WarehouseID    string
	CustomerAge    int
	CustomerGender string
	OrderDate      time.Time
	Recency        int
	OrderGap       int
}

// LineItem is the order-line projection.
type LineItem struct {
	OrderID   int64
	ProductID string
	SKUID     string
	Category  string
	Quantity  int
	UnitPrice float64
	Sales     float64
}

// Product is the product projection.
type Product struct {
	ProductID string
	SKUID     string
	Category  string
	UnitPrice float64
}

// FeatureNames lists the customer features in Vector order.
var FeatureNames = []string{
	"total_spend",
	"purchase_frequency",
	"avg_basket_size",
	"cat_diversity",
	"recency",
	"gap",
	"age",
}

// CustomerFeatures is the per-customer aggregate fed to segmentation.
type CustomerFeatures struct {
	CustomerID        string
	TotalSpend        float64
	PurchaseFrequency int
	AvgBasketSize     float64
	CatDiversity      int
	Recency           int
	Gap               float64
	Age               int
}

// Vector returns the numeric features in FeatureNames order.
func (c CustomerFeatures) Vector() []float64 {
	return []float64{
		c.TotalSpend,
		float64(c.PurchaseFrequency),
		c.AvgBasketSize,
		float64(c.CatDiversity),
		float64(c.Recency),
		c.Gap,
		float64(c.Age),
	}
}

// Derived is everything one derivation run produces.
type Derived struct {
	Facts     []DerivedFact
	Headers   []OrderHeader
	Lines     []LineItem
	Products  []Product
	Customers []CustomerFeatures

	// Removed are keys of rows that failed validation and must leave the ledger.
	Removed []Key

	// Dropped counts dropped rows by reason.
	Dropped map[string]int
}

// DroppedTotal sums Dropped.
func (d Derived) DroppedTotal() int {
	n := 0
	for _, c := range d.Dropped {
		n += c
	}
	return n
}

// Tx is the view of the ledger available while holding the write lock.
// Everything done through one Tx commits or rolls back together.
type Tx interface {
	// Load returns the ledger in ingestion order.
	Load(ctx context.Context) ([]OrderLine, error)
	Exists(ctx context.Context, key Key) (bool, error)
	// LastOrderDate returns the latest order date of the customer, if any.
	LastOrderDate(ctx context.Context, customerID string) (time.Time, bool, error)
	Append(ctx context.Context, lines ...OrderLine) error
	Remove(ctx context.Context, keys ...Key) error
	// ReplaceDerived swaps the projections and the customer table wholesale.
	ReplaceDerived(ctx context.Context, d Derived) error
}

// Store serialises ledger writers: one writer at a time, across the process
// and, where the backend supports it, across processes.
type Store interface {
	WithWriteLock(ctx context.Context, fn func(tx Tx) error) error
}
