package db

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"orderrec/internal/ledger"
)

const insertBatchSize = 500

// ledgerTx implements ledger.Tx on an open transaction.
type ledgerTx struct {
	db *gorm.DB
}

func exists(db *gorm.DB, key ledger.Key) (bool, error) {
	var count int64
	err := db.Model(&LedgerRow{}).
		Where("order_id = ? AND product_id = ? AND sku_id = ?", key.OrderID, key.ProductID, key.SKUID).
		Count(&count).Error
	return count > 0, err
}

func loadLedger(db *gorm.DB) ([]ledger.OrderLine, error) {
	var rows []LedgerRow
	if err := db.Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.OrderLine, len(rows))
	for i, r := range rows {
		out[i] = r.line()
	}
	return out, nil
}

func (t *ledgerTx) Load(ctx context.Context) ([]ledger.OrderLine, error) {
	return loadLedger(t.db.WithContext(ctx))
}

func (t *ledgerTx) Exists(ctx context.Context, key ledger.Key) (bool, error) {
	return exists(t.db.WithContext(ctx), key)
}

func (t *ledgerTx) LastOrderDate(ctx context.Context, customerID string) (time.Time, bool, error) {
	var rows []LedgerRow
	err := t.db.WithContext(ctx).
		Select("order_date").
		Where("customer_id = ?", customerID).
		Order("order_date DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return time.Time{}, false, err
	}
	return ledger.Day(rows[0].OrderDate), true, nil
}

func (t *ledgerTx) Append(ctx context.Context, lines ...ledger.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	rows := make([]LedgerRow, len(lines))
	for i, l := range lines {
		rows[i] = ledgerRowFrom(l)
	}
	return t.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error
}

func (t *ledgerTx) Remove(ctx context.Context, keys ...ledger.Key) error {
	db := t.db.WithContext(ctx)
	for _, k := range keys {
		err := db.Where("order_id = ? AND product_id = ? AND sku_id = ?", k.OrderID, k.ProductID, k.SKUID).
			Delete(&LedgerRow{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDerived deletes the projections and the customer table and
// inserts d in their place, then records the run.
func (t *ledgerTx) ReplaceDerived(ctx context.Context, d ledger.Derived) error {
	db := t.db.WithContext(ctx)
	all := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []any{&OrderHeaderRow{}, &LineItemRow{}, &ProductRow{}, &CustomerFeatureRow{}} {
		if err := all.Delete(model).Error; err != nil {
			return err
		}
	}

	headers := make([]OrderHeaderRow, len(d.Headers))
	for i, h := range d.Headers {
		headers[i] = OrderHeaderRow{
			OrderID:        h.OrderID,
			CustomerID:     h.CustomerID,
			WarehouseID:    h.WarehouseID,
			CustomerAge:    h.CustomerAge,
			CustomerGender: h.CustomerGender,
			OrderDate:      h.OrderDate,
			Recency:        h.Recency,
			OrderGap:       h.OrderGap,
		}
	}
	items := make([]LineItemRow, len(d.Lines))
	for i, l := range d.Lines {
		items[i] = LineItemRow{
			OrderID:   l.OrderID,
			ProductID: l.ProductID,
			SKUID:     l.SKUID,
			Category:  l.Category,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Sales:     l.Sales,
		}
	}
	products := make([]ProductRow, len(d.Products))
	for i, p := range d.Products {
		products[i] = ProductRow{ProductID: p.ProductID, SKUID: p.SKUID, Category: p.Category, UnitPrice: p.UnitPrice}
	}
	customers := make([]CustomerFeatureRow, len(d.Customers))
	for i, c := range d.Customers {
		customers[i] = CustomerFeatureRow{
			CustomerID:        c.CustomerID,
			TotalSpend:        c.TotalSpend,
			PurchaseFrequency: c.PurchaseFrequency,
			AvgBasketSize:     c.AvgBasketSize,
			CatDiversity:      c.CatDiversity,
			Recency:           c.Recency,
			Gap:               c.Gap,
			Age:               c.Age,
		}
	}

	if len(headers) > 0 {
		if err := db.CreateInBatches(headers, insertBatchSize).Error; err != nil {
			return err
		}
	}
	if len(items) > 0 {
		if err := db.CreateInBatches(items, insertBatchSize).Error; err != nil {
			return err
		}
	}
	if len(products) > 0 {
		if err := db.CreateInBatches(products, insertBatchSize).Error; err != nil {
			return err
		}
	}
	if len(customers) > 0 {
		if err := db.CreateInBatches(customers, insertBatchSize).Error; err != nil {
			return err
		}
	}

	dropped := datatypes.JSONMap{}
	for reason, n := range d.Dropped {
		dropped[reason] = n
	}
	return db.Create(&DerivationRun{
		LedgerRows: len(d.Facts),
		Customers:  len(d.Customers),
		Dropped:    dropped,
	}).Error
}
