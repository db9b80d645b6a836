package search

import (
	"context"

	"github.com/arthur-debert/lifestore/types"
)

// Options configures a search
type Options struct {
	// Query is the text to look for
	Query string

	// Fields are dotted record paths to search. A path crosses arrays, so
	// "ingredients.name" searches the name of every ingredient. The first
	// field is the primary one and scores higher. Empty searches every
	// string in the record.
	Fields []string

	CaseSensitive bool

	// ExactMatch requires a whole field value to equal the query
	ExactMatch bool

	// Highlight fills Result.Highlights, wrapping matches in the markers
	// ("**" by default)
	Highlight   bool
	StartMarker string
	EndMarker   string

	// MaxResults caps the result count; zero means no limit
	MaxResults int
}

// Result is a matching record with its relevance
type Result struct {
	Record types.Record

	// Score is in (0, 1], higher is better
	Score float64

	MatchType     MatchType
	MatchedFields []string

	// Highlights maps a matched field to its text with markers
	Highlights map[string]string
}

// MatchType says how the best match of a result was found
type MatchType string

const (
	MatchExactPrimary   MatchType = "exact_primary"
	MatchPartialPrimary MatchType = "partial_primary"
	MatchExact          MatchType = "exact"
	MatchPartial        MatchType = "partial"
)

// RecordProvider supplies the candidate records, already narrowed by the
// predicates
type RecordProvider interface {
	Records(ctx context.Context, predicates []types.Predicate) ([]types.Record, error)
}

// Searcher ranks the provider's records against a query
type Searcher interface {
	Search(ctx context.Context, options Options, predicates []types.Predicate) ([]Result, error)
}
