package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"orderrec/internal/apperr"
)

// columnAliases maps normalised header names onto RawOrderLine fields. Both
// the export headers ("Order ID") and snake_case are accepted.
var columnAliases = map[string]string{
	"order id":        "order_id",
	"order_id":        "order_id",
	"product id":      "product_id",
	"product_id":      "product_id",
	"sku id":          "sku_id",
	"sku_id":          "sku_id",
	"customer id":     "customer_id",
	"customer_id":     "customer_id",
	"warehouse id":    "warehouse_id",
	"warehouse_id":    "warehouse_id",
	"customer age":    "customer_age",
	"customer_age":    "customer_age",
	"customer gender": "customer_gender",
	"customer_gender": "customer_gender",
	"date":            "order_date",
	"order_date":      "order_date",
	"category":        "category",
	"quantity":        "quantity",
	"price per unit":  "unit_price",
	"unit_price":      "unit_price",
}

var requiredColumns = []string{
	"order_id", "product_id", "sku_id", "customer_id", "warehouse_id",
	"customer_age", "customer_gender", "order_date", "category", "quantity", "unit_price",
}

// ReadCSV reads raw order lines from r. The first record is the header.
// Extra columns (such as previously derived Sales) are ignored.
func ReadCSV(r io.Reader) ([]RawOrderLine, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := columnAliases[name]; ok {
			index[field] = i
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Precondition("missing columns: %s", strings.Join(missing, ", "))
	}

	var rows []RawOrderLine
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(rows)+1, err)
		}
		get := func(col string) string {
			i := index[col]
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}
		rows = append(rows, RawOrderLine{
			OrderID:        get("order_id"),
			ProductID:      get("product_id"),
			SKUID:          get("sku_id"),
			CustomerID:     get("customer_id"),
			WarehouseID:    get("warehouse_id"),
			CustomerAge:    get("customer_age"),
			CustomerGender: get("customer_gender"),
			OrderDate:      get("order_date"),
			Category:       get("category"),
			Quantity:       get("quantity"),
			UnitPrice:      get("unit_price"),
		})
	}
	return rows, nil
}

// ReadCSVFile reads a pending batch file. A missing or empty file yields no
// rows and no error.
func ReadCSVFile(path string) ([]RawOrderLine, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
