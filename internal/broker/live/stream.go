package live

import (
	"sync"
	"time"

	"brokergw/internal/broker"
	"brokergw/internal/logger"
	"brokergw/internal/order"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// stream reads pushed frames from the bridge:
//
//	{"type":"quote","data":{...}}
//	{"type":"order","data":{"event":"filled",...}}
type stream struct {
	conn *websocket.Conn
	sink broker.EventSink
	once sync.Once
	done chan struct{}
}

func newStream(conn *websocket.Conn, sink broker.EventSink) *stream {
	return &stream{conn: conn, sink: sink, done: make(chan struct{})}
}

func (s *stream) run() {
	defer s.close()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.Warnf("[live] realtime stream closed: %v", err)
			}
			return
		}
		s.dispatch(msg)
	}
}

func (s *stream) dispatch(msg []byte) {
	if !gjson.ValidBytes(msg) {
		logger.Debugf("[live] drop malformed stream frame")
		return
	}
	frame := gjson.ParseBytes(msg)
	data := frame.Get("data")
	switch frame.Get("type").String() {
	case "quote":
		s.sink.PublishQuote(parseQuote(data, ""))
	case "order":
		s.sink.PublishOrderEvent(parseEvent(data))
	default:
		logger.Debugf("[live] ignore stream frame type=%s", frame.Get("type").String())
	}
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func parseEvent(node gjson.Result) order.Event {
	rec := parseOrder(node)
	typ := order.EventType(node.Get("event").String())
	switch typ {
	case order.EventAccepted, order.EventRejected, order.EventCancelled, order.EventModified, order.EventFilled:
	default:
		typ = order.EventFilled
		if rec.Status == order.StatusCancelled {
			typ = order.EventCancelled
		}
	}
	return order.Event{
		Type:      typ,
		OrderID:   rec.OrderID,
		Code:      rec.Code,
		Status:    rec.Status,
		FilledQty: rec.FilledQty,
		Price:     rec.Price,
		Message:   node.Get("message").String(),
		At:        parseTime(node.Get("timestamp"), time.Now()),
	}
}
