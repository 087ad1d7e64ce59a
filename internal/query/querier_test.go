package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSummaryQuery(t *testing.T) {
	stmt, args := buildSummaryQuery("flow_vectors", time.Time{}, time.Time{})
	assert.Contains(t, stmt, "FROM flow_vectors")
	assert.NotContains(t, stmt, "WHERE")
	assert.Empty(t, args)

	from := time.Unix(1700000000, 0)
	to := from.Add(time.Hour)
	stmt, args = buildSummaryQuery("vectors", from, to)
	assert.Contains(t, stmt, "WHERE EndTime >= ? AND EndTime <= ?")
	assert.Equal(t, []any{from, to}, args)
	assert.True(t, strings.Index(stmt, "WHERE") < strings.Index(stmt, "GROUP BY"))

	_, args = buildSummaryQuery("vectors", time.Time{}, to)
	assert.Equal(t, []any{to}, args)
}
