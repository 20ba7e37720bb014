package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entry does not exist in the catalog.
	ErrNotFound = errors.New("not found")
	// ErrNameExists is returned when inserting a name that is already catalogued.
	ErrNameExists = errors.New("name already exists")
	// ErrPinInUse is returned when a pin is already bound to another entry.
	ErrPinInUse = errors.New("pin already in use")
)

// Catalog defines the persistence interface for the switch catalog.
// Names are unique, and so are pins.
type Catalog interface {
	// List returns every entry ordered by creation time, then name.
	List() ([]*Light, error)
	Get(name string) (*Light, error)

	// Insert adds a new entry. The name and pin uniqueness checks and the
	// write happen in one transaction.
	Insert(l *Light) error

	// Update atomically reads, modifies, and saves an entry in a single
	// transaction. The name cannot be changed. Returns ErrNotFound if the
	// entry does not exist.
	Update(name string, fn func(l *Light) error) (*Light, error)

	Delete(name string) error

	// Close the catalog
	Close() error
}

// Open opens the catalog backend named by driver ("bolt" or "sqlite").
func Open(driver, path string) (Catalog, error) {
	switch driver {
	case "", "bolt":
		return NewBoltCatalog(path)
	case "sqlite", "sqlite3":
		return NewSQLiteCatalog(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
