package registry

import "time"

// TokenSetSchema discriminates what a token set covers.
type TokenSetSchema string

const (
	SchemaContract TokenSetSchema = "contract"
	SchemaToken    TokenSetSchema = "token"
)

// TokenSetModel is one registered token set. The id is derived from the
// covered tokens, so re-registering is a no-op.
type TokenSetModel struct {
	ID        string         `gorm:"primaryKey;column:id;type:text;not null"`
	Schema    TokenSetSchema `gorm:"column:schema;type:varchar(20);not null"`
	Contract  string         `gorm:"column:contract;type:varchar(64);not null;index"`
	TokenID   *string        `gorm:"column:token_id;type:text"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamptz;default:CURRENT_TIMESTAMP"`
}

func (TokenSetModel) TableName() string {
	return "token_sets"
}

// SourceModel maps a human-readable source name to its attribution id.
type SourceModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;default:CURRENT_TIMESTAMP"`
}

func (SourceModel) TableName() string {
	return "sources"
}

// RoyaltyScheduleModel stores a collection's default royalty schedule as a
// JSON list of {recipient, bps} shares.
type RoyaltyScheduleModel struct {
	Collection string    `gorm:"primaryKey;column:collection;type:varchar(64);not null"`
	Breakdown  []byte    `gorm:"column:breakdown;type:jsonb"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz;default:CURRENT_TIMESTAMP"`
}

func (RoyaltyScheduleModel) TableName() string {
	return "collection_royalties"
}
