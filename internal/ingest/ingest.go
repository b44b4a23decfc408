// Package ingest accepts single order lines into the ledger as they arrive.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"orderrec/internal/ledger"
)

// Status is the outcome of one ingestion.
type Status int

const (
	Accepted Status = iota
	Rejected
)

func (s Status) String() string {
	if s == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Reason explains a rejection.
type Reason string

// DuplicateKey means a line with the same natural key is already stored.
const DuplicateKey Reason = "duplicate_key"

// Outcome is the result of Ingest. Fact is set only when the line was
// accepted.
type Outcome struct {
	Status Status
	Reason Reason
	Fact   ledger.DerivedFact
}

// Reader answers existence checks without taking the write lock.
type Reader interface {
	OrderExists(ctx context.Context, key ledger.Key) (bool, error)
}

// Ingestor appends order lines one at a time.
type Ingestor struct {
	store  ledger.Store
	reader Reader
	now    func() time.Time
	logger zerolog.Logger
}

// New creates an Ingestor. A nil clock means time.Now.
//
//nolint:gocritic // zerolog.Logger is passed by value
func New(store ledger.Store, reader Reader, now func() time.Time, logger zerolog.Logger) *Ingestor {
	if now == nil {
		now = time.Now
	}
	return &Ingestor{store: store, reader: reader, now: now, logger: logger}
}

// Ingest validates line and appends it unless its key is already present.
// The derived fields of the new line are computed against the customer's
// latest stored order; the customer feature table is left to the next
// derivation run.
func (in *Ingestor) Ingest(ctx context.Context, line ledger.OrderLine) (Outcome, error) {
	if err := ledger.Validate(line); err != nil {
		return Outcome{}, err
	}
	line.OrderDate = ledger.Day(line.OrderDate)

	var out Outcome
	err := in.store.WithWriteLock(ctx, func(tx ledger.Tx) error {
		exists, err := tx.Exists(ctx, line.Key())
		if err != nil {
			return fmt.Errorf("check key: %w", err)
		}
		if exists {
			out = Outcome{Status: Rejected, Reason: DuplicateKey}
			return nil
		}

		gap := 0
		last, ok, err := tx.LastOrderDate(ctx, line.CustomerID)
		if err != nil {
			return fmt.Errorf("last order date: %w", err)
		}
		if ok {
			gap = ledger.DaysBetween(last, line.OrderDate)
		}

		if err := tx.Append(ctx, line); err != nil {
			return fmt.Errorf("append: %w", err)
		}
		out = Outcome{
			Status: Accepted,
			Fact: ledger.DerivedFact{
				OrderLine: line,
				Sales:     line.Amount(),
				Recency:   ledger.DaysBetween(line.OrderDate, in.now()),
				OrderGap:  gap,
			},
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	ev := in.logger.Debug().
		Str("key", line.Key().String()).
		Str("customer_id", line.CustomerID).
		Stringer("status", out.Status)
	if out.Status == Rejected {
		ev = ev.Str("reason", string(out.Reason))
	}
	ev.Msg("ingested order line")
	return out, nil
}

// Exists reports whether key is stored.
func (in *Ingestor) Exists(ctx context.Context, key ledger.Key) (bool, error) {
	return in.reader.OrderExists(ctx, key)
}
