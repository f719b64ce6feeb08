package drafts

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/einvoice-tools/registry-workbench/internal/domain"
)

func newRepoForTest(t *testing.T) Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate drafts: %v", err)
	}
	return NewRepository(db)
}

func TestSavePageUpserts(t *testing.T) {
	repo := newRepoForTest(t)

	if err := repo.SavePage("spec-1", domain.DraftPageIdentifying, []byte(`{"name":"v1"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SavePage("spec-1", domain.DraftPageIdentifying, []byte(`{"name":"v2"}`)); err != nil {
		t.Fatalf("save again: %v", err)
	}

	d, err := repo.Page("spec-1", domain.DraftPageIdentifying)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if string(d.Payload) != `{"name":"v2"}` {
		t.Fatalf("expected last write to win, got %s", d.Payload)
	}

	all, err := repo.Pages("spec-1")
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single row after upsert, got %d", len(all))
	}
}

func TestPagesOrderedBySequence(t *testing.T) {
	repo := newRepoForTest(t)

	for _, page := range []int{domain.DraftPagePreview, domain.DraftPageIdentifying, domain.DraftPageCoreModel} {
		if err := repo.SavePage("spec-1", page, []byte(`{}`)); err != nil {
			t.Fatalf("save page %d: %v", page, err)
		}
	}
	if err := repo.SavePage("spec-2", domain.DraftPageIdentifying, []byte(`{}`)); err != nil {
		t.Fatalf("save other spec: %v", err)
	}

	all, err := repo.Pages("spec-1")
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Page >= all[i].Page {
			t.Fatalf("pages out of order: %d before %d", all[i-1].Page, all[i].Page)
		}
	}
}

func TestPageNotFound(t *testing.T) {
	repo := newRepoForTest(t)
	if _, err := repo.Page("spec-1", domain.DraftPageIdentifying); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
}

func TestDiscardDropsOnlyTargetSpec(t *testing.T) {
	repo := newRepoForTest(t)

	if err := repo.SavePage("spec-1", domain.DraftPageIdentifying, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SavePage("spec-1", domain.DraftPageCoreModel, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SavePage("spec-2", domain.DraftPageIdentifying, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.Discard("spec-1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if got, err := repo.Pages("spec-1"); err != nil || len(got) != 0 {
		t.Fatalf("expected spec-1 drafts gone, got %d (%v)", len(got), err)
	}
	if got, err := repo.Pages("spec-2"); err != nil || len(got) != 1 {
		t.Fatalf("expected spec-2 drafts kept, got %d (%v)", len(got), err)
	}
}

func TestPurgeStale(t *testing.T) {
	repo := newRepoForTest(t)

	if err := repo.SavePage("spec-old", domain.DraftPageIdentifying, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SavePage("spec-new", domain.DraftPageIdentifying, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Backdate one row past the cutoff.
	gdb := repo.(*GormRepository).db
	old := time.Now().Add(-72 * time.Hour)
	if err := gdb.Model(&domain.Draft{}).Where("spec_id = ?", "spec-old").Update("updated_at", old).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := repo.PurgeStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if _, err := repo.Page("spec-new", domain.DraftPageIdentifying); err != nil {
		t.Fatalf("fresh draft should survive purge: %v", err)
	}
}
