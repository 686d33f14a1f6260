package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/deltatrade/internal/database"
	"github.com/ksred/deltatrade/internal/events"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(t *testing.T) *Service {
	t.Helper()
	gdb, err := database.NewInMemory()
	require.NoError(t, err)
	return NewService(NewDatabase(gdb))
}

func trade(orderID, side, reason string, at time.Time) events.TradeExecuted {
	return events.TradeExecuted{
		AccountID:      "acct-1",
		Symbol:         "BINANCE:BTCUSDT",
		Side:           side,
		Quantity:       2,
		ExecutionPrice: decimal.RequireFromString("61234.5"),
		Reason:         reason,
		OrderID:        orderID,
		At:             at,
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "TAKE_PROFIT: sold 2 BTC at 61234.50", Message(trade("o", types.SideSell, types.ReasonTakeProfit, time.Now())))
	assert.Equal(t, "MANUAL: bought 2 BTC at 61234.50", Message(trade("o", types.SideBuy, types.ReasonManual, time.Now())))
}

func TestConsumeStoresEvents(t *testing.T) {
	svc := newService(t)
	bus := events.NewBus()
	ch := bus.Subscribe("notifications", 8)

	done := make(chan struct{})
	go func() {
		svc.Consume(context.Background(), ch)
		close(done)
	}()

	base := time.Now()
	bus.Publish(trade("o-1", types.SideBuy, types.ReasonManual, base))
	bus.Publish(trade("o-2", types.SideSell, types.ReasonStopLoss, base.Add(time.Second)))
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit after the bus closed")
	}

	list, err := svc.List(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o-2", list[0].OrderID, "newest first")
	assert.Equal(t, "STOP_LOSS: sold 2 BTC at 61234.50", list[0].Message)
	assert.False(t, list[0].Read)

	other, err := svc.List(context.Background(), "acct-2", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMarkRead(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, trade("o-1", types.SideBuy, types.ReasonManual, time.Now())))

	list, err := svc.List(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, svc.MarkRead(ctx, "acct-2", list[0].ID), gorm.ErrRecordNotFound)
	require.NoError(t, svc.MarkRead(ctx, "acct-1", list[0].ID))

	list, err = svc.List(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.True(t, list[0].Read)
}

func TestHandlers(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Record(context.Background(), trade("o-1", types.SideBuy, types.ReasonManual, time.Now())))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("claims", jwt.MapClaims{"account_id": "acct-1"})
	})
	h := NewGinHandlers(svc)
	r.GET("/notifications", h.ListHandler())
	r.PUT("/notifications/:id/read", h.MarkReadHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []types.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "o-1", body.Data[0].OrderID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/notifications/abc/read", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/notifications/999/read", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
