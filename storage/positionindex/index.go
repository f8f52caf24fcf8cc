// Package positionindex projects committed lending events into SQL tables so
// operators can query position lifecycles by wrangler or by hash.
package positionindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"p2plend/core/types"
	"p2plend/native/lending"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrUnknownDriver = errors.New("positionindex: unknown driver")

// PositionRecord is the latest known state of one position.
type PositionRecord struct {
	Hash              string `gorm:"primaryKey;size:66"`
	Wrangler          string `gorm:"size:42;index"`
	Status            string `gorm:"size:16;index"`
	CollateralCurrent string `gorm:"size:80"`
	FirstHeight       uint64
	LastHeight        uint64 `gorm:"index"`
	UpdatedAt         time.Time
}

// EventRecord is one lending event attached to a position.
type EventRecord struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PositionHash string `gorm:"size:66;index:idx_event_position"`
	Height       uint64 `gorm:"index:idx_event_position"`
	Seq          uint32
	Field        string `gorm:"size:32"`
	Value        string `gorm:"size:80"`
	Attributes   string `gorm:"type:text"`
}

// Index is a gorm-backed EventSink.
type Index struct {
	db *gorm.DB
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string) (*Index, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("positionindex: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&PositionRecord{}, &EventRecord{}); err != nil {
		return nil, fmt.Errorf("positionindex: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// Append records the lending events of one committed operation. Events of
// other types are ignored.
func (x *Index) Append(height uint64, evts []types.Event) error {
	return x.db.Transaction(func(tx *gorm.DB) error {
		for i, evt := range evts {
			if evt.Type != lending.EventTypePositionUpdated {
				continue
			}
			if err := applyPositionEvent(tx, height, uint32(i), evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyPositionEvent(tx *gorm.DB, height uint64, seq uint32, evt types.Event) error {
	attrs := evt.Attributes
	hash := evt.Attr("position")
	if hash == "" {
		return fmt.Errorf("positionindex: event at height %d has no position", height)
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	if err := tx.Create(&EventRecord{
		PositionHash: hash,
		Height:       height,
		Seq:          seq,
		Field:        attrs["key"],
		Value:        attrs["value"],
		Attributes:   string(encoded),
	}).Error; err != nil {
		return fmt.Errorf("positionindex: insert event: %w", err)
	}

	record := PositionRecord{Hash: hash, Wrangler: attrs["wrangler"], FirstHeight: height, LastHeight: height}
	updates := map[string]interface{}{"last_height": height, "updated_at": time.Now().UTC()}
	switch attrs["key"] {
	case lending.PositionFieldStatus:
		record.Status = statusName(attrs["value"])
		updates["status"] = record.Status
	case lending.PositionFieldCollateralCurrent:
		record.CollateralCurrent = attrs["value"]
		updates["collateral_current"] = record.CollateralCurrent
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("positionindex: upsert position: %w", err)
	}
	return nil
}

func statusName(value string) string {
	switch value {
	case "1":
		return lending.PositionStatusOpen.String()
	case "2":
		return lending.PositionStatusClosed.String()
	case "3":
		return lending.PositionStatusLiquidated.String()
	default:
		return value
	}
}

// ByWrangler lists positions managed by wrangler, most recently updated
// first. An empty status matches every status.
func (x *Index) ByWrangler(wrangler, status string, limit int) ([]PositionRecord, error) {
	query := x.db.Where("wrangler = ?", wrangler)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var out []PositionRecord
	err := query.Order("last_height DESC").Order("hash").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// History returns the recorded events of one position in commit order.
func (x *Index) History(position string) ([]EventRecord, error) {
	var out []EventRecord
	err := x.db.Where("position_hash = ?", position).Order("height").Order("seq").Find(&out).Error
	return out, err
}

// Close releases the underlying connection.
func (x *Index) Close() error {
	sqlDB, err := x.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
