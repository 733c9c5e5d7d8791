package apiserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedBufferSize    = 64
	feedPingInterval  = 30 * time.Second
	feedReadDeadline  = 90 * time.Second
	feedWriteDeadline = 10 * time.Second
)

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// saleFeed fans committed sales out to websocket subscribers. A subscriber
// that falls feedBufferSize messages behind misses the overflow.
type saleFeed struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*feedSubscriber]struct{}
	closed      bool
}

type feedSubscriber struct {
	auctionHouse string
	send         chan websocketEnvelope
	done         chan struct{}
}

func newSaleFeed(logger *slog.Logger) *saleFeed {
	return &saleFeed{
		logger:      logger,
		subscribers: map[*feedSubscriber]struct{}{},
	}
}

func (f *saleFeed) subscribe(auctionHouse string) *feedSubscriber {
	sub := &feedSubscriber{
		auctionHouse: auctionHouse,
		send:         make(chan websocketEnvelope, feedBufferSize),
		done:         make(chan struct{}),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(sub.done)
		return sub
	}
	f.subscribers[sub] = struct{}{}
	return sub
}

func (f *saleFeed) unsubscribe(sub *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[sub]; !ok {
		return
	}
	delete(f.subscribers, sub)
	close(sub.done)
}

func (f *saleFeed) publish(sale saleView) {
	envelope := websocketEnvelope{Type: "event", Channel: "sales", Data: sale, TS: time.Now().Unix()}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subscribers {
		if sub.auctionHouse != "" && sub.auctionHouse != sale.AuctionHouse {
			continue
		}
		select {
		case sub.send <- envelope:
		default:
			f.logger.Warn("sale feed subscriber lagging, dropping event", "sale_id", sale.ID)
		}
	}
}

func (f *saleFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *saleFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subscribers {
		delete(f.subscribers, sub)
		close(sub.done)
	}
}

// handleWebsocket streams sales. ?auction_house= narrows the stream to one house.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		origin := strings.TrimSpace(req.Header.Get("Origin"))
		return s.isOriginAllowed(origin)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := s.feed.subscribe(strings.TrimSpace(r.URL.Query().Get("auction_house")))
	defer s.feed.unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readErrCh := make(chan error, 1)
	go s.websocketReadLoop(ctx, conn, readErrCh)

	if err := writeWebsocketJSON(conn, websocketEnvelope{Type: "subscribed", Channel: "sales", TS: time.Now().Unix()}); err != nil {
		return
	}

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(feedWriteDeadline))
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case envelope := <-sub.send:
			if err := writeWebsocketJSON(conn, envelope); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteDeadline)); err != nil {
				return
			}
		}
	}
}

// websocketReadLoop drains client frames so pongs and close frames are seen.
func (s *Service) websocketReadLoop(ctx context.Context, conn *websocket.Conn, readErrCh chan<- error) {
	conn.SetReadLimit(4096)
	if err := conn.SetReadDeadline(time.Now().Add(feedReadDeadline)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
		})
	}
	for {
		select {
		case <-ctx.Done():
			readErrCh <- nil
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			readErrCh <- err
			return
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(feedWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
