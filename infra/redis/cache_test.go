package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "localhost:6379", c.Addr)
	assert.Equal(t, "wd:", c.Prefix)
	assert.NoError(t, c.Validate())
	assert.Error(t, Config{Addr: "x", DB: -1}.Validate())
}
