package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

func TestFormatQueriesList(t *testing.T) {
	queries := []model.SearchQuery{
		{
			ID:           "q-1",
			Request:      model.SearchRequest{Query: "plumbers dallas"},
			Status:       model.StatusReady,
			TotalResults: 42,
			TotalCost:    0.0735,
			CreatedAt:    time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
		},
		{
			ID:      "q-2",
			Request: model.SearchRequest{Query: strings.Repeat("long query ", 10)},
			Status:  model.StatusPreview,
		},
	}

	var sb strings.Builder
	formatQueriesList(&sb, queries)
	out := sb.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "q-1")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "plumbers dallas")
	assert.Contains(t, out, "$0.0735")
	assert.Contains(t, out, "2026-08-30 14:05")

	// Long queries are truncated with an ellipsis.
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, strings.Repeat("long query ", 10))
}
