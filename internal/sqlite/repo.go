// Package sqlite is the sqlite-backed subscription store.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/bytesize-news/bytesize/internal/bytesize"
)

// Ensure Repo implements the store interface
var _ bytesize.SubscriptionStore = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
