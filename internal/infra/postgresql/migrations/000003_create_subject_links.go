package migrations

import (
	"github.com/aquademia/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createSubjectLinksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_subject_links",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubjectLinkModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_subject_links_subject_role ON subject_links (subject_id, role)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubjectLinkModel{})
		},
	}
}
