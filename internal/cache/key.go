// Package cache provides advisory caching for search previews and
// enriched result sets. Cache failures never fail a request; callers
// treat errors as misses and recompute.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

// Namespace partitions cached payloads by pipeline stage. Preview and
// full entries for the same request never collide.
type Namespace string

const (
	// NamespacePreview holds masked preview payloads.
	NamespacePreview Namespace = "preview"
	// NamespaceFull holds enriched, unmasked result sets.
	NamespaceFull Namespace = "full"
)

var fold = cases.Fold()

// Key derives a stable cache key from a search request. Equivalent
// requests produce identical keys regardless of query casing, stray
// whitespace, unicode form, or engine order.
func Key(req model.SearchRequest) string {
	c := canonical{
		Query:    canonicalQuery(req.Query),
		Engines:  canonicalEngines(req.Filters.Engines),
		MaxPages: req.Filters.MaxPages,
	}

	// Marshal of a flat struct with no maps is deterministic.
	data, _ := json.Marshal(c)

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type canonical struct {
	Query    string   `json:"q"`
	Engines  []string `json:"e"`
	MaxPages int      `json:"p"`
}

func canonicalQuery(q string) string {
	q = norm.NFKC.String(q)
	q = fold.String(q)
	return strings.Join(strings.Fields(q), " ")
}

func canonicalEngines(engines []model.ProviderID) []string {
	if len(engines) == 0 {
		engines = model.DefaultProviders()
	}
	out := make([]string, len(engines))
	for i, e := range engines {
		out[i] = string(e)
	}
	sort.Strings(out)
	return out
}
