package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sessionRecord struct {
	SessionID string `gorm:"primaryKey;column:session_id"`
	Phase     string `gorm:"column:phase;index"`
	Data      []byte `gorm:"column:data"`
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

// DBStore persists sessions in a relational database through gorm. The state
// is stored as a single JSON blob per session; Phase is duplicated into its
// own column for inspection queries.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return &DBStore{db: db}, nil
}

// NewSQLiteStore opens (or creates) a sqlite-backed store at path.
func NewSQLiteStore(path string) (*DBStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	return NewDBStore(db)
}

func (s *DBStore) Load(ctx context.Context, sessionID string) (*State, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %v", ErrUnavailable, sessionID, err)
	}
	var state State
	if err := sonic.Unmarshal(rec.Data, &state); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", ErrUnavailable, sessionID, err)
	}
	return &state, nil
}

func (s *DBStore) Save(ctx context.Context, state *State) error {
	blob, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", ErrUnavailable, state.SessionID, err)
	}
	rec := sessionRecord{
		SessionID: state.SessionID,
		Phase:     string(state.Phase),
		Data:      blob,
		UpdatedAt: state.UpdatedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, state.SessionID, err)
	}
	return nil
}

func (s *DBStore) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&sessionRecord{}).Pluck("session_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	return ids, nil
}

var (
	_ Store  = (*DBStore)(nil)
	_ Lister = (*DBStore)(nil)
)
