package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"merchant-voucher/pkg/db/option"
	"merchant-voucher/pkg/repository"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the persisted form of an Event. (tx_hash, log_index) is unique,
// so re-appending an event is a no-op at the storage layer too.
type Record struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	TxHash          string         `gorm:"column:tx_hash;size:66;not null;uniqueIndex:idx_ledger_events_key"`
	LogIndex        uint64         `gorm:"column:log_index;not null;uniqueIndex:idx_ledger_events_key"`
	BlockNumber     uint64         `gorm:"column:block_number;not null;index:idx_ledger_events_position"`
	TriggeredAt     time.Time      `gorm:"column:triggered_at;index"`
	FromAddress     string         `gorm:"column:from_address;size:42"`
	ContractAddress string         `gorm:"column:contract_address;size:42;index"`
	Name            string         `gorm:"column:name;not null;index"`
	Inputs          datatypes.JSON `gorm:"column:inputs"`
	Fingerprint     string         `gorm:"column:fingerprint;size:64;not null"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Record) TableName() string {
	return "ledger_events"
}

func NewRecord(e Event) (*Record, error) {
	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	return &Record{
		TxHash:          e.TxHash.Hex(),
		LogIndex:        e.LogIndex,
		BlockNumber:     e.BlockNumber,
		TriggeredAt:     e.TriggeredAt.UTC(),
		FromAddress:     e.From.Hex(),
		ContractAddress: e.ContractAddress.Hex(),
		Name:            e.Name,
		Inputs:          datatypes.JSON(inputs),
		Fingerprint:     e.Fingerprint(),
	}, nil
}

func (r *Record) ToEvent() (Event, error) {
	var inputs []Input
	if len(r.Inputs) > 0 {
		if err := json.Unmarshal(r.Inputs, &inputs); err != nil {
			return Event{}, fmt.Errorf("unmarshal inputs of %s#%d: %w", r.TxHash, r.LogIndex, err)
		}
	}
	return Event{
		TxHash:          common.HexToHash(r.TxHash),
		From:            common.HexToAddress(r.FromAddress),
		LogIndex:        r.LogIndex,
		BlockNumber:     r.BlockNumber,
		TriggeredAt:     r.TriggeredAt.UTC(),
		ContractAddress: common.HexToAddress(r.ContractAddress),
		Name:            r.Name,
		Inputs:          inputs,
	}, nil
}

// Store is the append-only event log the projector replays from.
type Store interface {
	Append(ctx context.Context, events []Event) (int, error)
	Load(ctx context.Context) ([]Event, error)
	Page(ctx context.Context, after Position, limit int) ([]Event, error)
	Get(ctx context.Context, key Key) (*Event, error)
	Count(ctx context.Context) (int64, error)
}

type GormStore struct {
	db      *gorm.DB
	records repository.Repository[Record]
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:      db,
		records: repository.ProvideStore[Record](db),
	}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Append inserts events that are not stored yet and reports how many rows
// were written.
func (s *GormStore) Append(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	records := make([]*Record, 0, len(events))
	for _, e := range events {
		r, err := NewRecord(e)
		if err != nil {
			return 0, err
		}
		records = append(records, r)
	}

	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(records, 100)
		if res.Error != nil {
			return res.Error
		}
		written = res.RowsAffected
		return nil
	})
	if err != nil {
		zap.L().Error("failed to append ledger events", zap.Int("count", len(records)), zap.Error(err))
		return 0, err
	}

	return int(written), nil
}

func positionOrder() []option.QueryOption {
	allow := map[string]bool{"block_number": true, "log_index": true}
	return []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "block_number", OrderBy: "asc", Allow: allow}),
		option.WithSortBy(option.QuerySortBy{SortBy: "log_index", OrderBy: "asc", Allow: allow}),
	}
}

func (s *GormStore) Load(ctx context.Context) ([]Event, error) {
	records, err := s.records.Find(ctx, &Record{}, positionOrder()...)
	if err != nil {
		return nil, err
	}
	return toEvents(records)
}

// Page returns up to limit events strictly after the given position.
func (s *GormStore) Page(ctx context.Context, after Position, limit int) ([]Event, error) {
	opts := []option.QueryOption{
		func(db *gorm.DB) *gorm.DB {
			return db.Where("block_number > ? OR (block_number = ? AND log_index > ?)", after.Block, after.Block, after.LogIndex)
		},
	}
	opts = append(opts, positionOrder()...)
	opts = append(opts, option.WithLimit(limit))

	records, err := s.records.Find(ctx, &Record{}, opts...)
	if err != nil {
		return nil, err
	}
	return toEvents(records)
}

func (s *GormStore) Get(ctx context.Context, key Key) (*Event, error) {
	record, err := s.records.FindOne(ctx, &Record{TxHash: key.TxHash.Hex()},
		option.ApplyOperator(option.Condition{Field: "log_index", Operator: option.EQ, Value: key.LogIndex}),
	)
	if err != nil || record == nil {
		return nil, err
	}
	e, err := record.ToEvent()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	return s.records.Count(ctx, &Record{})
}

func toEvents(records []*Record) ([]Event, error) {
	out := make([]Event, 0, len(records))
	for _, r := range records {
		e, err := r.ToEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// MemoryStore is an in-process Store used by tests and the replay tool.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[Key]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[Key]Event)}
}

func (m *MemoryStore) Append(_ context.Context, events []Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range events {
		if _, ok := m.events[e.Key()]; ok {
			continue
		}
		m.events[e.Key()] = e
		n++
	}
	return n, nil
}

func (m *MemoryStore) Load(_ context.Context) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	SortByPosition(out)
	return out, nil
}

func (m *MemoryStore) Page(ctx context.Context, after Position, limit int) ([]Event, error) {
	all, _ := m.Load(ctx)
	out := make([]Event, 0, limit)
	for _, e := range all {
		if !after.Less(e.Position()) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}
