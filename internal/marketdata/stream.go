package marketdata

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

// TickerFrame is one push on the live ticker stream.
type TickerFrame struct {
	Type      string         `json:"type"`
	Tickers   []MarketTicker `json:"tickers"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stream pushes the ticker board to websocket clients on a fixed interval.
type Stream struct {
	service  *Service
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewStream(service *Service, interval time.Duration) *Stream {
	if interval <= 0 {
		interval = time.Second
	}
	return &Stream{
		service:  service,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// StreamHandler handles GET /market/stream and upgrades it to a websocket.
func (s *Stream) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			log.Warn().Err(err).Str("component", "ticker_stream").Msg("websocket upgrade failed")
			return
		}
		s.serve(c.Request.Context(), conn)
	}
}

func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) {
	logger := log.With().
		Str("component", "ticker_stream").
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("stream client connected")
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader goroutine: handles pongs and notices client close.
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(s.interval)
	defer push.Stop()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	if err := s.write(conn); err != nil {
		logger.Debug().Err(err).Msg("stream write failed")
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			logger.Debug().Msg("stream client disconnected")
			return
		case <-push.C:
			if err := s.write(conn); err != nil {
				logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) write(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(TickerFrame{
		Type:      "tickers",
		Tickers:   s.service.Tickers(),
		Timestamp: time.Now(),
	})
}
