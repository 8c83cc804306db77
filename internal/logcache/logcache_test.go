package logcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppend_TrimsToMaxEntries(t *testing.T) {
	c := New()
	for i := 0; i < maxEntries+10; i++ {
		c.Append("h1", "", Entry{Timestamp: time.Now(), Message: "x"})
	}
	page := c.Read("h1", "", 0, maxEntries+50)
	assert.Equal(t, maxEntries, page.TotalCount)
}

func TestRead_NewestFirstWithCursor(t *testing.T) {
	c := New()
	c.Append("h1", "", Entry{Message: "one"})
	c.Append("h1", "", Entry{Message: "two"})
	c.Append("h1", "", Entry{Message: "three"})

	page := c.Read("h1", "", 0, 2)
	assert.Equal(t, "three", page.Entries[0].Message)
	assert.Equal(t, "two", page.Entries[1].Message)
	assert.True(t, page.HasMore)

	page2 := c.Read("h1", "", page.Cursor, 2)
	assert.Equal(t, "one", page2.Entries[0].Message)
	assert.False(t, page2.HasMore)
}

func TestSummarize_CountsAndPatterns(t *testing.T) {
	c := New()
	base := time.Now()
	c.Append("h1", "", Entry{Timestamp: base, Level: "error", Message: "connection refused by upstream"})
	c.Append("h1", "", Entry{Timestamp: base.Add(time.Minute), Level: "warning", Message: "timeout waiting for health check"})
	c.Append("h1", "", Entry{Timestamp: base.Add(2 * time.Minute), Level: "info", Message: "connection refused again"})

	sum := c.Summarize("h1")
	assert.Equal(t, 1, sum.ErrorCount)
	assert.Equal(t, 1, sum.WarningCount)
	assert.Equal(t, base, sum.Earliest)
	assert.Equal(t, base.Add(2*time.Minute), sum.Latest)
	require := sum.TopPatterns
	assert.NotEmpty(t, require)
	assert.Equal(t, "connection refused", require[0].Pattern)
	assert.Equal(t, 2, require[0].Count)
}

func TestSummarize_EmptyDeploymentReturnsZeroValue(t *testing.T) {
	c := New()
	sum := c.Summarize("missing")
	assert.Equal(t, 0, sum.ErrorCount)
	assert.Empty(t, sum.TopPatterns)
}
