package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/model"
	"tradeengine/src/orders"
	"tradeengine/src/repository"
)

type orderService interface {
	PlaceOrder(ctx context.Context, userID uint, req orders.PlaceOrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID uint) error
	ListOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error)
	OrderFills(ctx context.Context, userID, orderID uint) ([]model.Fill, error)
}

type placeOrderBody struct {
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	OrderType       string   `json:"order_type"`
	Quantity        float64  `json:"quantity"`
	Price           *float64 `json:"price,omitempty"`
	StopLossPrice   *float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
}

// PlaceOrderHandler submits an order for the authenticated user.
func PlaceOrderHandler(svc orderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var body placeOrderBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		order, err := svc.PlaceOrder(r.Context(), userID, orders.PlaceOrderRequest{
			Symbol:          body.Symbol,
			Side:            body.Side,
			OrderType:       body.OrderType,
			Quantity:        body.Quantity,
			Price:           body.Price,
			StopLossPrice:   body.StopLossPrice,
			TakeProfitPrice: body.TakeProfitPrice,
			Strategy:        body.Strategy,
		})
		if err != nil {
			logger.WithError(err).Warn("Order placement failed")
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(order); err != nil {
			logger.WithError(err).Error("failed to encode order response")
		}
	}
}

// SearchOrdersHandler lists the authenticated user's orders with filters and
// pagination.
func SearchOrdersHandler(svc orderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsed, err := strconv.Atoi(pageParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsed
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsed, err := strconv.Atoi(sizeParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsed
		}

		results, err := svc.ListOrders(r.Context(), repository.OrderSearchOptions{
			UserID: userID,
			Symbol: r.URL.Query().Get("symbol"),
			Status: r.URL.Query().Get("status"),
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			logger.WithError(err).Error("failed to encode order search response")
		}
	}
}

func orderIDFromURL(r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "orderID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// CancelOrderHandler cancels one of the authenticated user's orders.
func CancelOrderHandler(svc orderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, ok := orderIDFromURL(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		err := svc.CancelOrder(r.Context(), userID, orderID)
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, orders.ErrOrderNotOpen):
			http.Error(w, "order is not open", http.StatusConflict)
		case err != nil:
			logger.WithError(err).Error("failed to cancel order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// OrderFillsHandler lists the fills of one of the user's orders.
func OrderFillsHandler(svc orderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, ok := orderIDFromURL(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		fills, err := svc.OrderFills(r.Context(), userID, orderID)
		if errors.Is(err, orders.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.WithError(err).Error("failed to list fills")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fills); err != nil {
			logger.WithError(err).Error("failed to encode fills response")
		}
	}
}
