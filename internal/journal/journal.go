// Package journal keeps an append-only audit trail of order placements and
// order events in SQLite.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"brokergw/internal/broker"
	glog "brokergw/internal/logger"
	"brokergw/internal/order"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const (
	KindPlacement = "placement"
	KindEvent     = "event"

	eventBuffer  = 256
	defaultLimit = 100
	maxLimit     = 1000
)

// Entry is one journal row.
type Entry struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SessionID   string         `gorm:"index;size:128" json:"session_id"`
	Mode        string         `gorm:"size:16" json:"mode"`
	Kind        string         `gorm:"size:16;index" json:"kind"`
	OrderID     string         `gorm:"index;size:128" json:"order_id"`
	Code        string         `gorm:"size:16" json:"stock_code"`
	Side        string         `gorm:"size:8" json:"action,omitempty"`
	Price       float64        `json:"price"`
	Quantity    int            `json:"quantity"`
	PriceType   string         `gorm:"size:8" json:"price_type,omitempty"`
	TimeInForce string         `gorm:"size:8" json:"order_type,omitempty"`
	Condition   string         `gorm:"size:16" json:"order_condition,omitempty"`
	Outcome     string         `gorm:"size:16" json:"outcome,omitempty"`
	Event       string         `gorm:"size:16" json:"event,omitempty"`
	Status      string         `gorm:"size:24" json:"status,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Detail      datatypes.JSON `json:"detail,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string { return "order_journal" }

// Query filters List. Zero values match everything.
type Query struct {
	SessionID string
	OrderID   string
	Kind      string
	Limit     int
}

// Journal writes entries; events arrive on a buffered queue so order
// listeners never wait on disk.
type Journal struct {
	db     *gorm.DB
	events chan Entry
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

// Open creates or migrates the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	j := &Journal{db: db, events: make(chan Entry, eventBuffer), now: time.Now}
	j.wg.Add(1)
	go j.drain()
	glog.Infof("[journal] opened %s", path)
	return j, nil
}

func (j *Journal) drain() {
	defer j.wg.Done()
	for e := range j.events {
		if err := j.db.Create(&e).Error; err != nil {
			glog.Warnf("[journal] write event order=%s failed: %v", e.OrderID, err)
		}
	}
}

// RecordPlacement stores a submitted request and its result synchronously.
func (j *Journal) RecordPlacement(ctx context.Context, sessionID string, mode broker.Mode, req order.Request, res order.Result) error {
	e := Entry{
		SessionID:   sessionID,
		Mode:        string(mode),
		Kind:        KindPlacement,
		OrderID:     res.OrderID,
		Code:        req.Code,
		Side:        string(req.Side),
		Price:       req.PriceValue(),
		Quantity:    req.Quantity,
		PriceType:   string(req.PriceType),
		TimeInForce: string(req.TimeInForce),
		Condition:   string(req.Condition),
		Outcome:     string(res.Outcome),
		Reason:      res.Reason,
		Detail:      detailJSON(res.Raw),
		CreatedAt:   j.stamp(res.SubmittedAt),
	}
	return j.db.WithContext(ctx).Create(&e).Error
}

// Listener returns an order listener that queues events for sessionID.
// Events are dropped, with a warning, when the queue is full or closed.
func (j *Journal) Listener(sessionID string, mode broker.Mode) broker.OrderListener {
	return &listener{j: j, sessionID: sessionID, mode: mode}
}

type listener struct {
	j         *Journal
	sessionID string
	mode      broker.Mode
}

func (l *listener) OnOrderEvent(evt order.Event) {
	l.j.enqueue(Entry{
		SessionID: l.sessionID,
		Mode:      string(l.mode),
		Kind:      KindEvent,
		OrderID:   evt.OrderID,
		Code:      evt.Code,
		Price:     evt.Price,
		Quantity:  evt.FilledQty,
		Event:     string(evt.Type),
		Status:    string(evt.Status),
		Reason:    evt.Message,
		CreatedAt: l.j.stamp(evt.At),
	})
}

func (j *Journal) enqueue(e Entry) {
	defer func() {
		if recover() != nil {
			glog.Warnf("[journal] closed, drop event order=%s", e.OrderID)
		}
	}()
	select {
	case j.events <- e:
	default:
		glog.Warnf("[journal] queue full, drop event order=%s", e.OrderID)
	}
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{})
	if s := strings.TrimSpace(q.SessionID); s != "" {
		tx = tx.Where("session_id = ?", s)
	}
	if s := strings.TrimSpace(q.OrderID); s != "" {
		tx = tx.Where("order_id = ?", s)
	}
	if s := strings.TrimSpace(q.Kind); s != "" {
		tx = tx.Where("kind = ?", s)
	}
	var out []Entry
	if err := tx.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes queued events and closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.once.Do(func() {
		close(j.events)
		j.wg.Wait()
		sqlDB, dbErr := j.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

func (j *Journal) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return j.now()
	}
	return ts
}

func detailJSON(raw map[string]any) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return datatypes.JSON(buf)
}
