package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"orderrec/internal/apperr"
	"orderrec/internal/ingest"
	"orderrec/internal/ledger"
	"orderrec/internal/metrics"
)

// OrderIngestor is what the order routes need from ingest.Ingestor.
type OrderIngestor interface {
	Ingest(ctx context.Context, line ledger.OrderLine) (ingest.Outcome, error)
	Exists(ctx context.Context, key ledger.Key) (bool, error)
}

// OrderRequest is one order line as submitted by a client. The field names
// follow the column headers of the order feed.
type OrderRequest struct {
	OrderID        *int64   `json:"Order ID" validate:"required,gte=0"`
	CustomerID     string   `json:"Customer ID" validate:"required,customer_id"`
	WarehouseID    string   `json:"Warehouse ID" validate:"required,warehouse_id"`
	CustomerAge    *int     `json:"Customer Age" validate:"required,gte=0"`
	CustomerGender string   `json:"Customer Gender" validate:"required"`
	Date           string   `json:"Date" validate:"required,order_date"`
	ProductID      string   `json:"Product ID" validate:"required,product_id"`
	SKUID          string   `json:"SKU ID" validate:"required,sku_id"`
	Category       string   `json:"Category" validate:"required"`
	Quantity       *int     `json:"Quantity" validate:"required,gt=0"`
	UnitPrice      *float64 `json:"Price per Unit" validate:"required,gt=0"`
}

// line converts a validated request.
func (r *OrderRequest) line() (ledger.OrderLine, error) {
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return ledger.OrderLine{}, err
	}
	return ledger.OrderLine{
		OrderID:        *r.OrderID,
		ProductID:      r.ProductID,
		SKUID:          r.SKUID,
		CustomerID:     r.CustomerID,
		WarehouseID:    r.WarehouseID,
		CustomerAge:    *r.CustomerAge,
		CustomerGender: r.CustomerGender,
		OrderDate:      date,
		Category:       r.Category,
		Quantity:       *r.Quantity,
		UnitPrice:      *r.UnitPrice,
	}, nil
}

type validationResponse struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

// AddOrder handles POST /orders.
//
//nolint:gocritic // zerolog.Logger is passed by value
func AddOrder(orders OrderIngestor, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req OrderRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			metrics.OrdersIngested.WithLabelValues("invalid").Inc()
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := getValidator().Struct(&req); err != nil {
			metrics.OrdersIngested.WithLabelValues("invalid").Inc()
			jsonResponse(ctx, fasthttp.StatusBadRequest, validationResponse{
				Message: "validation failed",
				Errors:  validationErrors(err),
			})
			return
		}
		line, err := req.line()
		if err != nil {
			metrics.OrdersIngested.WithLabelValues("invalid").Inc()
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}

		rctx, cancel := requestContext(0)
		defer cancel()
		out, err := orders.Ingest(rctx, line)
		switch {
		case errors.Is(err, apperr.ErrDataIntegrity):
			metrics.OrdersIngested.WithLabelValues("invalid").Inc()
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		case err != nil:
			logger.Error().Err(err).Str("key", line.Key().String()).Msg("failed to add order")
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to add order")
			return
		}

		if out.Status == ingest.Rejected {
			metrics.OrdersIngested.WithLabelValues("duplicate").Inc()
			logger.Warn().Str("key", line.Key().String()).Msg("duplicate order line")
			errResponse(ctx, fasthttp.StatusBadRequest, "Duplicate order line detected.")
			return
		}

		metrics.OrdersIngested.WithLabelValues("accepted").Inc()
		logger.Info().
			Str("key", line.Key().String()).
			Str("customer_id", line.CustomerID).
			Int("order_gap", out.Fact.OrderGap).
			Msg("order line added")
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"message": "Order added successfully."})
	}
}

// OrderExists handles GET /orders?order_id=&product_id=&sku_id=.
//
//nolint:gocritic // zerolog.Logger is passed by value
func OrderExists(orders OrderIngestor, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		orderID, err := strconv.ParseInt(string(args.Peek("order_id")), 10, 64)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "order_id must be an integer")
			return
		}
		productID := string(args.Peek("product_id"))
		skuID := string(args.Peek("sku_id"))
		if productID == "" || skuID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "product_id and sku_id are required")
			return
		}

		rctx, cancel := requestContext(0)
		defer cancel()
		key := ledger.Key{OrderID: orderID, ProductID: productID, SKUID: skuID}
		ok, err := orders.Exists(rctx, key)
		if err != nil {
			logger.Error().Err(err).Str("key", key.String()).Msg("existence check failed")
			errResponse(ctx, fasthttp.StatusInternalServerError, "existence check failed")
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]bool{"exists": ok})
	}
}
