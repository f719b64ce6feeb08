package drafts

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects the draft cache. sqlite is the single-user default (a file
// next to the credential store); postgres serves a shared team cache.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var db *gorm.DB
	var err error
	switch driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unknown drafts driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open drafts cache (%s): %w", driver, err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate drafts cache: %w", err)
	}
	return db, nil
}
