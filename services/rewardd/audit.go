package rewardd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AuditRecord is one engine call as seen by the API, committed or not.
type AuditRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID  string    `gorm:"index" json:"requestId,omitempty"`
	Engine     string    `gorm:"index;not null" json:"engine"`
	Op         string    `gorm:"index;not null" json:"op"`
	Caller     string    `gorm:"index;not null" json:"caller"`
	Amount     string    `json:"amount,omitempty"`
	Recipients int       `json:"recipients"`
	CostUsed   uint64    `json:"costUsed"`
	Code       string    `gorm:"index;not null" json:"code"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// OpenAuditDB connects to the configured audit database.
func OpenAuditDB(cfg AuditConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// AuditLog appends and lists audit records.
type AuditLog struct {
	db    *gorm.DB
	clock clockwork.Clock
}

// NewAuditLog migrates the audit table on db.
func NewAuditLog(db *gorm.DB, clock clockwork.Clock) (*AuditLog, error) {
	if db == nil {
		return nil, errors.New("audit database required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit log: %w", err)
	}
	return &AuditLog{db: db, clock: clock}, nil
}

// Append stores rec, assigning its id and timestamp.
func (l *AuditLog) Append(ctx context.Context, rec *AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = l.clock.Now().UTC()
	return l.db.WithContext(ctx).Create(rec).Error
}

// AuditFilter narrows List results. Empty fields match everything.
type AuditFilter struct {
	Engine string
	Caller string
	Code   string
	Limit  int
}

// List returns the most recent records first.
func (l *AuditLog) List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := l.db.WithContext(ctx).Model(&AuditRecord{})
	if filter.Engine != "" {
		query = query.Where("engine = ?", filter.Engine)
	}
	if filter.Caller != "" {
		query = query.Where("caller = ?", filter.Caller)
	}
	if filter.Code != "" {
		query = query.Where("code = ?", filter.Code)
	}
	var records []AuditRecord
	if err := query.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
