// Package notification turns executed trades into per-account messages.
package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/deltatrade/internal/auth"
	"github.com/ksred/deltatrade/internal/events"
	"github.com/ksred/deltatrade/internal/marketdata"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 50

// Service stores and lists notifications.
type Service struct {
	db *Database
}

func NewService(db *Database) *Service {
	return &Service{db: db}
}

// Message renders the text stored for an executed trade, e.g.
// "TAKE_PROFIT: sold 10 AAPL at 160.00".
func Message(e events.TradeExecuted) string {
	verb := "bought"
	if e.Side == types.SideSell {
		verb = "sold"
	}
	return fmt.Sprintf("%s: %s %d %s at %s",
		e.Reason, verb, e.Quantity, marketdata.DisplaySymbol(e.Symbol), e.ExecutionPrice.StringFixed(2))
}

// Record stores the notification for one executed trade.
func (s *Service) Record(ctx context.Context, e events.TradeExecuted) error {
	return s.db.CreateNotification(ctx, &types.Notification{
		AccountID: e.AccountID,
		OrderID:   e.OrderID,
		Message:   Message(e),
		CreatedAt: e.At,
	})
}

// Consume records every event from ch until ch is closed or ctx is done.
// Storage errors are logged and the event is dropped.
func (s *Service) Consume(ctx context.Context, ch <-chan events.TradeExecuted) {
	logger := log.With().Str("component", "notification_consumer").Logger()
	logger.Info().Msg("starting notification consumer")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down notification consumer")
			return
		case e, ok := <-ch:
			if !ok {
				logger.Info().Msg("event stream closed")
				return
			}
			if err := s.Record(ctx, e); err != nil {
				logger.Error().
					Err(err).
					Str("account_id", e.AccountID).
					Str("order_id", e.OrderID).
					Msg("failed to store notification")
			}
		}
	}
}

func (s *Service) List(ctx context.Context, accountID string, limit int) ([]types.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	return s.db.GetAccountNotifications(ctx, accountID, limit)
}

func (s *Service) MarkRead(ctx context.Context, accountID string, id uint) error {
	return s.db.MarkRead(ctx, accountID, id)
}

// GinHandlers contains HTTP handlers for notification endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListHandler handles GET /notifications?limit=N
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		notifications, err := h.service.List(c.Request.Context(), id, limit)
		response.Handle(c, notifications, err)
	}
}

// MarkReadHandler handles PUT /notifications/:id/read
func (h *GinHandlers) MarkReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		notificationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid notification ID")
			return
		}
		err = h.service.MarkRead(c.Request.Context(), id, uint(notificationID))
		response.Handle(c, gin.H{"id": notificationID, "read": true}, err)
	}
}
