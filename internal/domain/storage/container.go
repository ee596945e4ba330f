package storage

import (
	"bites/internal/domain/dining"
	"bites/internal/domain/reviews"
	"bites/internal/domain/users"
	"bites/internal/ledger"
)

// Container groups the repositories that share one ledger. The ledger has no
// multi-document transactions, so there is no unit-of-work helper here:
// callers sequence their writes and tolerate partial completion.
type Container struct {
	ledger  ledger.Store
	Users   users.Store
	Reviews reviews.Store
	Dining  dining.Store
}

func NewContainer(db ledger.Store) *Container {
	return &Container{
		ledger:  db,
		Users:   users.NewRepository(db),
		Reviews: reviews.NewRepository(db),
		Dining:  dining.NewRepository(db),
	}
}

func (c *Container) Close() error {
	return c.ledger.Close()
}
