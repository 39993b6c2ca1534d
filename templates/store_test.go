package templates

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/models"
	"content-forge/store"
)

func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.PromptTemplate{}, &models.PromptVersion{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	return NewStore(st, zap.NewNop()), st
}

func countCurrent(t *testing.T, st *store.Store, templateID uint) int64 {
	t.Helper()
	var n int64
	if err := st.DB().Model(&models.PromptVersion{}).
		Where("prompt_template_id = ? AND is_current = ?", templateID, true).
		Count(&n).Error; err != nil {
		t.Fatalf("count current: %v", err)
	}
	return n
}

func TestCreateSetsInitialCurrentVersion(t *testing.T) {
	s, st := newTestStore(t)
	acc := uint(1)

	tpl, err := s.Create(CreateInput{
		Name:     "Blog",
		Category: "blog_article",
		Prompt:   "Schreibe über {{article.title}}",
	}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := countCurrent(t, st, tpl.ID); got != 1 {
		t.Fatalf("current versions = %d, want 1", got)
	}

	resolved, err := s.Get(tpl.ID, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.VersionNumber != 1 || !resolved.Version.IsCurrent {
		t.Errorf("resolved version = %+v, want v1 current", resolved.Version)
	}
	if resolved.Provenance != ProvenanceAccount {
		t.Errorf("provenance = %s, want %s", resolved.Provenance, ProvenanceAccount)
	}
}

func TestCreateRequiresFields(t *testing.T) {
	s, _ := newTestStore(t)
	acc := uint(1)
	if _, err := s.Create(CreateInput{Name: "x", Category: "y"}, &acc); err == nil {
		t.Error("expected error for missing prompt")
	}
	if _, err := s.Create(CreateInput{Name: "x", Prompt: "p"}, &acc); err == nil {
		t.Error("expected error for missing category")
	}
}

func TestUpdateAppendsVersionWithoutFlip(t *testing.T) {
	s, st := newTestStore(t)
	acc := uint(1)
	tpl, err := s.Create(CreateInput{Name: "Blog", Category: "blog_article", Prompt: "v1"}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	v2, err := s.Update(tpl.ID, UpdateInput{Prompt: "v2"}, acc)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Errorf("version number = %d, want 2", v2.VersionNumber)
	}
	if v2.IsCurrent {
		t.Error("new version must not be current without MakeCurrent")
	}
	if got := countCurrent(t, st, tpl.ID); got != 1 {
		t.Fatalf("current versions = %d, want 1", got)
	}

	resolved, err := s.Get(tpl.ID, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.VersionNumber != 1 {
		t.Errorf("resolved version = %d, want still 1", resolved.Version.VersionNumber)
	}
}

func TestUpdateWithMakeCurrentFlipsAtomically(t *testing.T) {
	s, st := newTestStore(t)
	acc := uint(1)
	tpl, err := s.Create(CreateInput{Name: "Blog", Category: "blog_article", Prompt: "v1"}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	v2, err := s.Update(tpl.ID, UpdateInput{Prompt: "v2", MakeCurrent: true}, acc)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := countCurrent(t, st, tpl.ID); got != 1 {
		t.Fatalf("current versions = %d, want exactly 1", got)
	}
	resolved, err := s.Get(tpl.ID, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.ID != v2.ID {
		t.Errorf("resolved version = %d, want %d", resolved.Version.ID, v2.ID)
	}
}

func TestSetCurrentVersionRollback(t *testing.T) {
	s, st := newTestStore(t)
	acc := uint(1)
	tpl, err := s.Create(CreateInput{Name: "Blog", Category: "blog_article", Prompt: "v1"}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(tpl.ID, UpdateInput{Prompt: "v2", MakeCurrent: true}, acc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var v1 models.PromptVersion
	if err := st.DB().Where("prompt_template_id = ? AND version_number = 1", tpl.ID).First(&v1).Error; err != nil {
		t.Fatalf("load v1: %v", err)
	}
	if err := s.SetCurrentVersion(tpl.ID, v1.ID, acc); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}
	if got := countCurrent(t, st, tpl.ID); got != 1 {
		t.Fatalf("current versions = %d, want 1", got)
	}
	resolved, err := s.Get(tpl.ID, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.ID != v1.ID {
		t.Errorf("resolved version = %d, want rollback to %d", resolved.Version.ID, v1.ID)
	}
}

func TestTenantOverridesGlobalByCategory(t *testing.T) {
	s, _ := newTestStore(t)
	acc := uint(1)

	if _, err := s.Create(CreateInput{Name: "Global Blog", Category: "blog_article", Prompt: "global"}, nil); err != nil {
		t.Fatalf("Create global: %v", err)
	}

	resolved, err := s.CurrentByCategory("blog_article", acc)
	if err != nil {
		t.Fatalf("CurrentByCategory: %v", err)
	}
	if resolved.Provenance != ProvenanceGlobal {
		t.Fatalf("provenance = %s, want global", resolved.Provenance)
	}

	if _, err := s.Create(CreateInput{Name: "Eigenes Blog", Category: "blog_article", Prompt: "mandant"}, &acc); err != nil {
		t.Fatalf("Create tenant: %v", err)
	}

	resolved, err = s.CurrentByCategory("blog_article", acc)
	if err != nil {
		t.Fatalf("CurrentByCategory: %v", err)
	}
	if resolved.Provenance != ProvenanceAccount {
		t.Errorf("provenance = %s, want account after override", resolved.Provenance)
	}
	if resolved.Version.Prompt != "mandant" {
		t.Errorf("prompt = %q, want tenant prompt", resolved.Version.Prompt)
	}
}

func TestCurrentByCategoryMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.CurrentByCategory("does_not_exist", 1); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestGetIsTenantScopedAfterCacheWarm(t *testing.T) {
	s, _ := newTestStore(t)
	acc := uint(1)
	tpl, err := s.Create(CreateInput{Name: "Privat", Category: "blog_article", Prompt: "Mandant-1-Prompt"}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mandant 1 wärmt den Cache.
	if _, err := s.Get(tpl.ID, acc); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Mandant 2 darf das fremde Template weder aus dem Cache noch aus
	// der DB bekommen.
	if _, err := s.Get(tpl.ID, 2); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Get as tenant 2 = %v, want ErrTemplateNotFound", err)
	}
	if _, err := s.Versions(tpl.ID, 2); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Versions as tenant 2 = %v, want ErrTemplateNotFound", err)
	}
}

func TestUpdateRefusesGlobal(t *testing.T) {
	s, _ := newTestStore(t)
	tpl, err := s.Create(CreateInput{Name: "Global", Category: "blog_article", Prompt: "global v1"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Update(tpl.ID, UpdateInput{Prompt: "gekapert", MakeCurrent: true}, 7); err == nil {
		t.Fatal("expected refusal to update global template via tenant API")
	}
	// Die für alle Mandanten sichtbare Version ist unverändert.
	resolved, err := s.Get(tpl.ID, 99)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.Prompt != "global v1" || resolved.Version.VersionNumber != 1 {
		t.Errorf("global version changed: %+v", resolved.Version)
	}
}

func TestSetCurrentVersionRefusesGlobal(t *testing.T) {
	s, st := newTestStore(t)
	tpl, err := s.Create(CreateInput{Name: "Global", Category: "blog_article", Prompt: "global v1"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v2 := models.PromptVersion{PromptTemplateID: tpl.ID, VersionNumber: 2, Prompt: "v2"}
	if err := st.DB().Create(&v2).Error; err != nil {
		t.Fatalf("seed v2: %v", err)
	}

	if err := s.SetCurrentVersion(tpl.ID, v2.ID, 7); err == nil {
		t.Fatal("expected refusal to flip current on global template via tenant API")
	}
	resolved, err := s.Get(tpl.ID, 99)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Version.VersionNumber != 1 {
		t.Errorf("current version = %d, want still 1", resolved.Version.VersionNumber)
	}
}

func TestDeleteRefusesGlobal(t *testing.T) {
	s, _ := newTestStore(t)
	tpl, err := s.Create(CreateInput{Name: "Global", Category: "blog_article", Prompt: "p"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(tpl.ID, 1); err == nil {
		t.Error("expected refusal to delete global template via tenant API")
	}
}

func TestDeleteRemovesTenantTemplateAndVersions(t *testing.T) {
	s, st := newTestStore(t)
	acc := uint(1)
	tpl, err := s.Create(CreateInput{Name: "Eigenes", Category: "blog_article", Prompt: "p"}, &acc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(tpl.ID, acc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var n int64
	st.DB().Model(&models.PromptVersion{}).Where("prompt_template_id = ?", tpl.ID).Count(&n)
	if n != 0 {
		t.Errorf("versions remaining = %d, want 0", n)
	}
	if _, err := s.Get(tpl.ID, acc); err == nil {
		t.Error("expected not found after delete")
	}
}
