package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}

	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(fmt.Errorf("create connection: %w", dup)))

	assert.False(t, IsDuplicateKey(mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 121}}}))
	assert.False(t, IsDuplicateKey(errors.New("socket closed")))
	assert.False(t, IsDuplicateKey(nil))
}
