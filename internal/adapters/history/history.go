// Package history appends finished captures to a Postgres table through gorm.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	playersSeparator   = ","
)

// Sentinel errors.
var (
	ErrOpen  = errors.New("open capture history")
	ErrWrite = errors.New("write capture history")
	ErrRead  = errors.New("read capture history")
)

// Capture is one row of the ghost_captures table.
type Capture struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement"`
	GhostID         string    `gorm:"column:ghost_id;size:64;not null;uniqueIndex:idx_ghost_captures_ghost"`
	Kind            string    `gorm:"column:kind;size:16;not null"`
	Location        string    `gorm:"column:location;size:190;index:idx_ghost_captures_location"`
	Players         string    `gorm:"column:players;type:text;not null"`
	PointsPerPlayer int       `gorm:"column:points_per_player;not null;default:0"`
	CapturedAt      time.Time `gorm:"column:captured_at;not null;index:idx_ghost_captures_at"`
}

// TableName provides the explicit table binding for GORM.
func (Capture) TableName() string {
	return "ghost_captures"
}

func fromRecord(rec model.CaptureRecord) Capture { //nolint:gocritic // hugeParam: converted once per capture
	return Capture{
		GhostID:         rec.GhostID,
		Kind:            string(rec.Kind),
		Location:        rec.Location,
		Players:         strings.Join(rec.Players, playersSeparator),
		PointsPerPlayer: rec.PointsPerPlayer,
		CapturedAt:      rec.CapturedAt.UTC(),
	}
}

func (c *Capture) record() model.CaptureRecord {
	var players []string
	if c.Players != "" {
		players = strings.Split(c.Players, playersSeparator)
	}
	return model.CaptureRecord{
		GhostID:         c.GhostID,
		Kind:            model.Kind(c.Kind),
		Location:        c.Location,
		Players:         players,
		PointsPerPlayer: c.PointsPerPlayer,
		CapturedAt:      c.CapturedAt,
	}
}

// Repository stores capture history.
type Repository struct {
	db     *gorm.DB
	logger logger.Logger
}

// Open connects to Postgres, migrates the table and returns a Repository.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrOpen)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return New(ctx, db)
}

// New wraps an existing gorm handle and migrates the table.
func New(ctx context.Context, db *gorm.DB) (*Repository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Capture{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", ErrOpen, err)
	}
	return &Repository{db: db, logger: logger.Get().Named("history")}, nil
}

// RecordCapture inserts one capture. A second record for the same ghost is ignored.
func (r *Repository) RecordCapture(ctx context.Context, rec model.CaptureRecord) error { //nolint:gocritic // hugeParam: Recorder signature
	row := fromRecord(rec)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ghost_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("%w: %w", ErrWrite, res.Error)
	}
	r.logger.Debug(ctx, "capture recorded", logger.String("ghost", rec.GhostID))
	return nil
}

// Recent returns the newest captures, optionally filtered by location.
func (r *Repository) Recent(ctx context.Context, location string, limit int) ([]model.CaptureRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	q := r.db.WithContext(ctx).Order("captured_at DESC").Limit(limit)
	if location != "" {
		q = q.Where("location = ?", location)
	}
	var rows []Capture
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	out := make([]model.CaptureRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].record())
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
