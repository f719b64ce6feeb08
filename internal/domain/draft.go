package domain

import "time"

// Draft is one cached authoring page for one specification. Page payloads
// are stored as opaque JSON so the cache survives form-shape changes.
type Draft struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SpecID    string    `gorm:"size:64;index:idx_drafts_spec_page,unique;not null" json:"spec_id"`
	Page      int       `gorm:"index:idx_drafts_spec_page,unique;not null" json:"page"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// The five authoring pages.
const (
	DraftPageIdentifying = 1
	DraftPageCoreModel   = 2
	DraftPageExtensions  = 3
	DraftPageRequirement = 4
	DraftPagePreview     = 5
)
