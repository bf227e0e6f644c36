package redis

import (
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func newMockClient() (*Client, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return &Client{rdb: db}, mock
}

func expectationsMet(t *testing.T, mock redismock.ClientMock) {
	t.Helper()
	assert.NoError(t, mock.ExpectationsWereMet())
}
