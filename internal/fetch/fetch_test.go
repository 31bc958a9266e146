package fetch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/webq/internal/fetch"
)

func TestNewBrowserFetcherDefaults(t *testing.T) {
	f, err := fetch.NewBrowserFetcher(fetch.BrowserFetcherConfig{})
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestNewBrowserFetcherCustomTimeouts(t *testing.T) {
	f, err := fetch.NewBrowserFetcher(fetch.BrowserFetcherConfig{
		NavigationTimeout: 5 * time.Second,
		SettleWait:        100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.NotNil(t, f)
}
