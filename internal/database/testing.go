package database

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ksred/deltatrade/internal/config"
	"gorm.io/gorm"
)

// NewInMemory opens a migrated, private in-memory SQLite database. Each call
// gets its own named database so parallel tests never share state.
func NewInMemory() (*gorm.DB, error) {
	return NewDatabase(config.Database{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
}
