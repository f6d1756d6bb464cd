package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCompactSiblingOrder = "2026-10-01_compact_sibling_order"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations := []migrationDefinition{
		{name: migrationCompactSiblingOrder, apply: compactSiblingOrder},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, logger); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// compactSiblingOrder renumbers every sibling group that holds duplicate order
// values, keeping the order the sibling index already presents. Root documents
// are grouped per owner, so equal root orders of different owners are left alone.
func compactSiblingOrder(db *gorm.DB, logger *zap.Logger) error {
	var rows []documents.Document
	if err := db.Find(&rows).Error; err != nil {
		return err
	}

	forest := documents.NewForest(rows)
	for _, group := range forest.GroupsWithDuplicateOrders() {
		for index, document := range group {
			if document.SortOrder == int64(index) {
				continue
			}
			err := db.Model(&documents.Document{}).
				Where("id = ?", document.ID).
				UpdateColumn("sort_order", index).
				Error
			if err != nil {
				return err
			}
		}
		logger.Warn("sibling group renumbered",
			zap.String("first_document_id", group[0].ID),
			zap.Int("size", len(group)),
		)
	}
	return nil
}
