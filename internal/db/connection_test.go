package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConnectionEmptyURL(t *testing.T) {
	conn, err := NewConnection(context.Background(), "")
	assert.Nil(t, conn)
	assert.EqualError(t, err, "database url is empty")
}

func TestNewConnectionUnreachable(t *testing.T) {
	// nothing listens on port 1
	conn, err := NewConnection(context.Background(), "postgres://catastro@127.0.0.1:1/catastro?sslmode=disable&connect_timeout=1")
	assert.Nil(t, conn)
	assert.ErrorContains(t, err, "failed to ping database")
}
