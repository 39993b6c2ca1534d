package main

import (
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
)

func newSeedStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.PromptTemplate{}, &models.PromptVersion{}, &models.Workflow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db)
}

func TestSeedTemplatesCarryVariableDescriptors(t *testing.T) {
	st := newSeedStore(t)
	seedDefaultTemplates(st, zap.NewNop())

	var tpls []models.PromptTemplate
	if err := st.DB().Find(&tpls).Error; err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if len(tpls) != len(defaultTemplates) {
		t.Fatalf("seeded templates = %d, want %d", len(tpls), len(defaultTemplates))
	}

	for _, tpl := range tpls {
		var ui struct {
			Variables []templates.Variable `json:"variables"`
		}
		if err := store.UnmarshalColumn(tpl.UIConfig, &ui); err != nil {
			t.Fatalf("ui_config of %s: %v", tpl.Name, err)
		}
		if len(ui.Variables) == 0 {
			t.Errorf("template %s has no variable descriptors", tpl.Name)
		}
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	st := newSeedStore(t)
	seedDefaultTemplates(st, zap.NewNop())
	seedDefaultTemplates(st, zap.NewNop())

	var n int64
	st.DB().Model(&models.PromptTemplate{}).Count(&n)
	if n != int64(len(defaultTemplates)) {
		t.Errorf("templates after rerun = %d, want %d", n, len(defaultTemplates))
	}
}
