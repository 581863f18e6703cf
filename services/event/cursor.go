package event

import (
	"context"
	"sync"
	"time"

	"merchant-voucher/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SourceOffset is how many events of one gateway listing have been ingested.
// Source identifies the listing as contract label plus event signature.
type SourceOffset struct {
	Source    string    `gorm:"column:source;primaryKey;size:255"`
	Offset    int       `gorm:"column:event_offset;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SourceOffset) TableName() string {
	return "ledger_source_offsets"
}

// CursorStore keeps the per-source listing offsets beside the event log.
type CursorStore interface {
	Offsets(ctx context.Context) (map[string]int, error)
	SaveOffsets(ctx context.Context, offsets map[string]int) error
}

type GormCursorStore struct {
	db      *gorm.DB
	records repository.Repository[SourceOffset]
}

func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{
		db:      db,
		records: repository.ProvideStore[SourceOffset](db),
	}
}

func (s *GormCursorStore) Migrate() error {
	return s.db.AutoMigrate(&SourceOffset{})
}

func (s *GormCursorStore) Offsets(ctx context.Context) (map[string]int, error) {
	records, err := s.records.Find(ctx, &SourceOffset{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(records))
	for _, r := range records {
		out[r.Source] = r.Offset
	}
	return out, nil
}

func (s *GormCursorStore) SaveOffsets(ctx context.Context, offsets map[string]int) error {
	if len(offsets) == 0 {
		return nil
	}

	rows := make([]SourceOffset, 0, len(offsets))
	for source, offset := range offsets {
		rows = append(rows, SourceOffset{Source: source, Offset: offset})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_offset", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		zap.L().Error("failed to save source offsets", zap.Int("count", len(rows)), zap.Error(err))
	}
	return err
}

type MemoryCursorStore struct {
	mu      sync.Mutex
	offsets map[string]int
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{offsets: make(map[string]int)}
}

func (m *MemoryCursorStore) Offsets(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.offsets))
	for k, v := range m.offsets {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryCursorStore) SaveOffsets(_ context.Context, offsets map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range offsets {
		m.offsets[k] = v
	}
	return nil
}
