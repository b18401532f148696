package model

import (
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/assert"
)

func TestCreateID(t *testing.T) {
	assert := assert.New(t)

	a := CreateID()
	b := CreateID()
	assert.NotEmpty(a)
	assert.NotEqual(a, b)

	// round-trips to the 16 raw uuid bytes
	assert.Len(base58.Decode(a), 16)
}
