package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/agrosense/agrosense/types"
)

// ArchivedTurn is the relational form of one exchange. The archive is
// append-only; the Redis window is the authoritative recent history.
type ArchivedTurn struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:64;not null;index:idx_conversation" json:"conversation_id"`
	QueryID        string    `gorm:"size:64;not null;uniqueIndex:idx_query" json:"query_id"`
	UserText       string    `gorm:"type:text;not null" json:"user_text"`
	AssistantText  string    `gorm:"type:text;not null" json:"assistant_text"`
	Roles          string    `gorm:"size:255" json:"roles"` // comma-joined contributing roles
	CreatedAt      time.Time `gorm:"index:idx_created" json:"created_at"`
}

// TableName keeps the table name stable across gorm versions.
func (ArchivedTurn) TableName() string { return "archived_turns" }

// Archive stores completed turns in SQLite.
type Archive struct {
	db *gorm.DB
}

// NewArchive opens the archive database and migrates the schema.
// An empty path selects an in-memory database.
func NewArchive(path string) (*Archive, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return NewArchiveWithDB(db)
}

// NewArchiveWithDB wraps an existing gorm handle, used by tests.
func NewArchiveWithDB(db *gorm.DB) (*Archive, error) {
	if err := db.AutoMigrate(&ArchivedTurn{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Save appends one turn to the archive.
func (a *Archive) Save(ctx context.Context, conversationID string, turn types.Turn) error {
	row := ArchivedTurn{
		ConversationID: conversationID,
		QueryID:        turn.QueryID,
		UserText:       turn.User.Content,
		AssistantText:  turn.Assistant.Content,
		Roles:          joinRoles(turn.Roles),
		CreatedAt:      turn.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("archive turn %s: %w", turn.QueryID, err)
	}
	return nil
}

// History returns a conversation's archived turns, oldest first,
// bounded by limit. Zero limit means no bound.
func (a *Archive) History(ctx context.Context, conversationID string, limit int) ([]ArchivedTurn, error) {
	var rows []ArchivedTurn
	q := a.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	return rows, nil
}

func joinRoles(roles []string) string { return strings.Join(roles, ",") }
