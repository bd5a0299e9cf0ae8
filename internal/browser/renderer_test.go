package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())

	cfg.NavigationTimeout = 0
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())
}

func TestRendererLazyStart(t *testing.T) {
	r := NewRenderer(DefaultConfig())
	assert.False(t, r.IsConnected())
	assert.NoError(t, r.Shutdown(), "shutdown before start is a no-op")
}
