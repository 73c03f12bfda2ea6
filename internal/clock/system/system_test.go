package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

var _ crawler.Clock = (*Clock)(nil)

func TestClockNowIsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := New().Now()
	after := time.Now()

	require.Equal(t, time.UTC, got.Location())
	assert.WithinRange(t, got, before.Add(-time.Millisecond), after.Add(time.Millisecond))
}

func TestClockNowAdvances(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	time.Sleep(2 * time.Millisecond)
	assert.True(t, clk.Now().After(first))
}
