package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"orderrec/internal/apperr"
)

// Drop reasons used as keys of Derived.Dropped.
const (
	ReasonOrderID     = "order_id"
	ReasonQuantity    = "quantity"
	ReasonUnitPrice   = "unit_price"
	ReasonCustomerAge = "customer_age"
	ReasonDate        = "date"
)

// RowError describes why a row was rejected. It unwraps to
// apperr.ErrDataIntegrity.
type RowError struct {
	Field string
	Value string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *RowError) Unwrap() error { return apperr.ErrDataIntegrity }

// RawOrderLine is an order line as read from a batch file, before any
// numeric or date coercion.
type RawOrderLine struct {
	OrderID        string
	ProductID      string
	SKUID          string
	CustomerID     string
	WarehouseID    string
	CustomerAge    string
	CustomerGender string
	OrderDate      string
	Category       string
	Quantity       string
	UnitPrice      string
}

// Coerce converts a raw row into an OrderLine. Numeric fields are checked
// before the date, matching the order in which a derivation run drops rows.
func Coerce(raw RawOrderLine) (OrderLine, error) {
	orderID, err := strconv.ParseInt(strings.TrimSpace(raw.OrderID), 10, 64)
	if err != nil {
		return OrderLine{}, &RowError{Field: ReasonOrderID, Value: raw.OrderID}
	}

	qty, ok := parseWhole(raw.Quantity)
	if !ok || qty <= 0 {
		return OrderLine{}, &RowError{Field: ReasonQuantity, Value: raw.Quantity}
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(raw.UnitPrice), 64)
	if err != nil || !validPrice(price) {
		return OrderLine{}, &RowError{Field: ReasonUnitPrice, Value: raw.UnitPrice}
	}

	age, ok := parseWhole(raw.CustomerAge)
	if !ok {
		return OrderLine{}, &RowError{Field: ReasonCustomerAge, Value: raw.CustomerAge}
	}

	date, err := ParseDate(raw.OrderDate)
	if err != nil {
		return OrderLine{}, &RowError{Field: ReasonDate, Value: raw.OrderDate}
	}

	return OrderLine{
		OrderID:        orderID,
		ProductID:      strings.TrimSpace(raw.ProductID),
		SKUID:          strings.TrimSpace(raw.SKUID),
		CustomerID:     strings.TrimSpace(raw.CustomerID),
		WarehouseID:    strings.TrimSpace(raw.WarehouseID),
		CustomerAge:    age,
		CustomerGender: strings.TrimSpace(raw.CustomerGender),
		OrderDate:      date,
		Category:       strings.TrimSpace(raw.Category),
		Quantity:       qty,
		UnitPrice:      price,
	}, nil
}

// Validate re-checks a typed line with the same rules Coerce applies.
func Validate(line OrderLine) error {
	if line.Quantity <= 0 {
		return &RowError{Field: ReasonQuantity, Value: strconv.Itoa(line.Quantity)}
	}
	if !validPrice(line.UnitPrice) {
		return &RowError{Field: ReasonUnitPrice, Value: strconv.FormatFloat(line.UnitPrice, 'g', -1, 64)}
	}
	if line.OrderDate.IsZero() {
		return &RowError{Field: ReasonDate, Value: ""}
	}
	return nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// parseWhole accepts "3" and "3.0" but not "3.5".
func parseWhole(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// ParseDate parses an order date and truncates it to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b, both taken as dates.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}
