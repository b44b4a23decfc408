// Package features derives per-record temporal and financial fields from the
// ledger and rebuilds the normalized projections and the customer feature
// table. Every run is a full recompute over the ledger snapshot it is given.
package features

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"orderrec/internal/ledger"
)

// Deriver computes derived tables relative to its clock.
type Deriver struct {
	now    func() time.Time
	logger zerolog.Logger
}

// NewDeriver returns a Deriver. A nil clock means time.Now.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewDeriver(now func() time.Time, logger zerolog.Logger) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{now: now, logger: logger}
}

// Derive validates lines, drops the malformed ones and computes every derived
// table. lines must be in ingestion order; that order breaks date ties.
func (d *Deriver) Derive(lines []ledger.OrderLine) ledger.Derived {
	today := ledger.Day(d.now())
	out := ledger.Derived{Dropped: map[string]int{}}

	valid := make([]ledger.OrderLine, 0, len(lines))
	for _, l := range lines {
		if err := ledger.Validate(l); err != nil {
			var rowErr *ledger.RowError
			reason := "invalid"
			if errors.As(err, &rowErr) {
				reason = rowErr.Field
			}
			out.Dropped[reason]++
			out.Removed = append(out.Removed, l.Key())
			continue
		}
		valid = append(valid, l)
	}
	if n := out.DroppedTotal(); n > 0 {
		d.logger.Warn().
			Int("dropped", n).
			Interface("by_reason", out.Dropped).
			Msg("dropped malformed ledger rows")
	}

	out.Facts = DeriveFacts(valid, today)
	out.Headers, out.Lines, out.Products = Project(out.Facts)
	out.Customers = Aggregate(out.Facts, today)
	return out
}

// DeriveFacts computes sales, recency and order gap for each line. The
// result is ordered by (customer, date), ties keeping input order.
func DeriveFacts(lines []ledger.OrderLine, today time.Time) []ledger.DerivedFact {
	sorted := make([]ledger.OrderLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CustomerID != sorted[j].CustomerID {
			return sorted[i].CustomerID < sorted[j].CustomerID
		}
		return sorted[i].OrderDate.Before(sorted[j].OrderDate)
	})

	facts := make([]ledger.DerivedFact, len(sorted))
	for i, l := range sorted {
		gap := 0
		if i > 0 && sorted[i-1].CustomerID == l.CustomerID {
			gap = ledger.DaysBetween(sorted[i-1].OrderDate, l.OrderDate)
		}
		facts[i] = ledger.DerivedFact{
			OrderLine: l,
			Sales:     l.Amount(),
			Recency:   ledger.DaysBetween(l.OrderDate, today),
			OrderGap:  gap,
		}
	}
	return facts
}

// Project builds the three normalized projections, each deduplicated on the
// full row and kept in fact order.
func Project(facts []ledger.DerivedFact) ([]ledger.OrderHeader, []ledger.LineItem, []ledger.Product) {
	headers := make([]ledger.OrderHeader, 0, len(facts))
	lines := make([]ledger.LineItem, 0, len(facts))
	products := make([]ledger.Product, 0)

	seenHeader := make(map[ledger.OrderHeader]struct{})
	seenLine := make(map[ledger.LineItem]struct{})
	seenProduct := make(map[ledger.Product]struct{})

	for _, f := range facts {
		h := ledger.OrderHeader{
			OrderID:        f.OrderID,
			CustomerID:     f.CustomerID,
			WarehouseID:    f.WarehouseID,
			CustomerAge:    f.CustomerAge,
			CustomerGender: f.CustomerGender,
			OrderDate:      f.OrderDate,
			Recency:        f.Recency,
			OrderGap:       f.OrderGap,
		}
		if _, ok := seenHeader[h]; !ok {
			seenHeader[h] = struct{}{}
			headers = append(headers, h)
		}

		li := ledger.LineItem{
			OrderID:   f.OrderID,
			ProductID: f.ProductID,
			SKUID:     f.SKUID,
			Category:  f.Category,
			Quantity:  f.Quantity,
			UnitPrice: f.UnitPrice,
			Sales:     f.Sales,
		}
		if _, ok := seenLine[li]; !ok {
			seenLine[li] = struct{}{}
			lines = append(lines, li)
		}

		p := ledger.Product{
			ProductID: f.ProductID,
			SKUID:     f.SKUID,
			Category:  f.Category,
			UnitPrice: f.UnitPrice,
		}
		if _, ok := seenProduct[p]; !ok {
			seenProduct[p] = struct{}{}
			products = append(products, p)
		}
	}
	return headers, lines, products
}

type customerAcc struct {
	features   ledger.CustomerFeatures
	orders     map[int64]struct{}
	categories map[string]struct{}
	quantity   int
	gapSum     int
	rows       int
	last       time.Time
}

// Aggregate folds derived facts into one feature row per customer, ordered
// by customer id. facts must be in DeriveFacts order so Age is taken from
// the customer's earliest row.
func Aggregate(facts []ledger.DerivedFact, today time.Time) []ledger.CustomerFeatures {
	accs := make(map[string]*customerAcc)
	ids := make([]string, 0)

	for _, f := range facts {
		acc, ok := accs[f.CustomerID]
		if !ok {
			acc = &customerAcc{
				features:   ledger.CustomerFeatures{CustomerID: f.CustomerID, Age: f.CustomerAge},
				orders:     make(map[int64]struct{}),
				categories: make(map[string]struct{}),
			}
			accs[f.CustomerID] = acc
			ids = append(ids, f.CustomerID)
		}
		acc.features.TotalSpend += f.Sales
		acc.orders[f.OrderID] = struct{}{}
		acc.categories[f.Category] = struct{}{}
		acc.quantity += f.Quantity
		acc.gapSum += f.OrderGap
		acc.rows++
		if f.OrderDate.After(acc.last) {
			acc.last = f.OrderDate
		}
	}

	sort.Strings(ids)
	out := make([]ledger.CustomerFeatures, 0, len(ids))
	for _, id := range ids {
		acc := accs[id]
		c := acc.features
		c.PurchaseFrequency = len(acc.orders)
		c.CatDiversity = len(acc.categories)
		c.AvgBasketSize = float64(acc.quantity) / float64(acc.rows)
		c.Gap = float64(acc.gapSum) / float64(acc.rows)
		c.Recency = ledger.DaysBetween(acc.last, today)
		out = append(out, c)
	}
	return out
}
