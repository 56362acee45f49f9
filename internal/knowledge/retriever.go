package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vitalis-health/clinsight/internal/shared/metrics"
)

// DefaultTopK is the number of references requested per analysis.
const DefaultTopK = 5

// Retriever queries the knowledge base for evidence supporting an analysis.
// A knowledge-base failure never blocks the pipeline: the retriever reports
// degraded mode and the analysis proceeds without external evidence.
type Retriever struct {
	client SearchClient
	topK   int
	log    zerolog.Logger
}

// NewRetriever creates a retriever over the given search client.
func NewRetriever(client SearchClient, topK int, log zerolog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{client: client, topK: topK, log: log}
}

// Retrieve searches for references matching the clinical signals of one
// request. The degraded flag is true only when the store itself failed;
// a successful query with zero results is not degraded mode.
func (r *Retriever) Retrieve(ctx context.Context, signals []string) ([]Reference, bool) {
	query := BuildQuery(signals)
	if query == "" {
		return nil, false
	}

	refs, err := r.client.Search(ctx, query, r.topK)
	if err != nil {
		r.log.Warn().Err(err).Msg("knowledge base search failed, continuing degraded")
		metrics.RecordKnowledgeDegraded()
		return nil, true
	}

	// The store should return relevance-descending order already, but the
	// ordering is part of our contract to the prompt builder.
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Relevance > refs[j].Relevance
	})

	if len(refs) > r.topK {
		refs = refs[:r.topK]
	}

	return refs, false
}

// BuildQuery joins clinical signals into a single search query. Signals are
// abnormal findings by name, never raw note text, so the query carries no
// direct identifiers.
func BuildQuery(signals []string) string {
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		s = strings.TrimSpace(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}
