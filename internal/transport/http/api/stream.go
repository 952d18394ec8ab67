package apihttp

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"brokergw/internal/broker"
	"brokergw/internal/logger"
	"brokergw/internal/order"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 64
	streamWriteWait = 5 * time.Second
	streamPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type streamMessage struct {
	Type string `json:"type"`
	Data gin.H  `json:"data"`
}

// wsListener forwards handle events into a bounded queue. Publishers never
// block; a full queue drops the event.
type wsListener struct {
	out     chan streamMessage
	dropped atomic.Int64
}

func newWSListener() *wsListener {
	return &wsListener{out: make(chan streamMessage, streamBuffer)}
}

func (l *wsListener) push(msg streamMessage) {
	select {
	case l.out <- msg:
	default:
		if n := l.dropped.Add(1); n%100 == 1 {
			logger.Warnf("[stream] client too slow, dropped=%d", n)
		}
	}
}

func (l *wsListener) OnQuote(q broker.Quote) {
	l.push(streamMessage{Type: "quote", Data: quoteJSON(q)})
}

func (l *wsListener) OnOrderEvent(evt order.Event) {
	l.push(streamMessage{Type: "order", Data: gin.H{
		"event":           evt.Type,
		"order_id":        evt.OrderID,
		"stock_code":      evt.Code,
		"status":          evt.Status,
		"filled_quantity": evt.FilledQty,
		"price":           evt.Price,
		"message":         evt.Message,
		"timestamp":       evt.At.Format(time.RFC3339),
	}})
}

// handleStream upgrades to a websocket carrying quotes for ?codes=a,b and
// this session's order events. Auth is checked before the upgrade. The
// socket is closed with a normal close frame once the login ends.
func (h *handlers) handleStream(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var codes []string
	for _, raw := range c.QueryArray("codes") {
		for _, code := range strings.Split(raw, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
	}
	l := newWSListener()
	sub, err := h.svc.Stream(c.Request.Context(), t, codes, l)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Detach()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[stream] upgrade failed session=%s err=%v", t.SessionID, err)
		return
	}
	defer conn.Close()
	logger.Infof("[stream] open session=%s mode=%s codes=%v", t.SessionID, t.Mode, codes)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			logger.Infof("[stream] closed session=%s", t.SessionID)
			return
		case <-sub.Done():
			logger.Infof("[stream] session ended, closing session=%s", t.SessionID)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		case msg := <-l.out:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
