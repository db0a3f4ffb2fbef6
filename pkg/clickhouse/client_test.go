package clickhouse

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(Options{
		Host: "ch", Port: 9000, Database: "swarm", User: "default", Password: "p@ss",
		AsyncInsert: true, DialTimeout: 5 * time.Second,
	})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch:9000", u.Host)
	assert.Equal(t, "/swarm", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "1", u.Query().Get("async_insert"))
	assert.Equal(t, "5s", u.Query().Get("dial_timeout"))
	assert.Empty(t, u.Query().Get("read_timeout"))

	assert.Contains(t, DSN(Options{Host: "ch", Port: 8123, UseHTTP: true}), "http://")
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	assert.Error(t, err)
}
