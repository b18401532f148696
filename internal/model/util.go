package model

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
)

// CreateID returns a short url-safe unique id for a new row.
func CreateID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
