// Package drafts caches in-progress authoring pages locally so a restart or
// an expired session never loses form input. Rows are keyed by
// specification id and page number; payloads are opaque JSON.
package drafts

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/einvoice-tools/registry-workbench/internal/domain"
	"github.com/einvoice-tools/registry-workbench/internal/observability"
)

var ErrDraftNotFound = errors.New("draft not found")

type Repository interface {
	SavePage(specID string, page int, payload []byte) error
	Page(specID string, page int) (*domain.Draft, error)
	Pages(specID string) ([]domain.Draft, error)
	Discard(specID string) error
	PurgeStale(olderThan time.Duration) (int64, error)
}

type GormRepository struct{ db *gorm.DB }

func NewRepository(db *gorm.DB) Repository { return &GormRepository{db: db} }

// Migrate creates the drafts table. Called once at startup by the
// composition root.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Draft{})
}

// SavePage upserts: one row per specification page, last write wins.
func (r *GormRepository) SavePage(specID string, page int, payload []byte) error {
	draft := domain.Draft{SpecID: specID, Page: page, Payload: payload}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "spec_id"}, {Name: "page"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&draft).Error
	if err != nil {
		observability.RecordDraftCacheOperation("save_page", "error")
		return err
	}
	observability.RecordDraftCacheOperation("save_page", "success")
	return nil
}

func (r *GormRepository) Page(specID string, page int) (*domain.Draft, error) {
	var d domain.Draft
	err := r.db.Where("spec_id = ? AND page = ?", specID, page).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordDraftCacheOperation("page", "not_found")
			return nil, ErrDraftNotFound
		}
		observability.RecordDraftCacheOperation("page", "error")
		return nil, err
	}
	observability.RecordDraftCacheOperation("page", "success")
	return &d, nil
}

func (r *GormRepository) Pages(specID string) ([]domain.Draft, error) {
	var out []domain.Draft
	err := r.db.Where("spec_id = ?", specID).Order("page ASC").Find(&out).Error
	if err != nil {
		observability.RecordDraftCacheOperation("pages", "error")
		return nil, err
	}
	observability.RecordDraftCacheOperation("pages", "success")
	return out, nil
}

// Discard drops every cached page for a specification, typically after a
// successful submit.
func (r *GormRepository) Discard(specID string) error {
	err := r.db.Where("spec_id = ?", specID).Delete(&domain.Draft{}).Error
	if err != nil {
		observability.RecordDraftCacheOperation("discard", "error")
		return err
	}
	observability.RecordDraftCacheOperation("discard", "success")
	return nil
}

func (r *GormRepository) PurgeStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.Where("updated_at < ?", cutoff).Delete(&domain.Draft{})
	if res.Error != nil {
		observability.RecordDraftCacheOperation("purge_stale", "error")
		return 0, res.Error
	}
	observability.RecordDraftCacheOperation("purge_stale", "success")
	return res.RowsAffected, nil
}
