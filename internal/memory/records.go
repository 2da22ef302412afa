package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// outcomeMetadataLimit caps the outcome stored alongside a play.
const outcomeMetadataLimit = 200

// ClientProfile identifies the client a set of plays was generated for.
type ClientProfile struct {
	ClientName      string
	Vertical        string
	Domain          string
	MaturitySummary string
}

// SimilarVerticals returns past client profiles close to vertical and domain.
// Failures and cold starts both yield an empty slice.
func SimilarVerticals(ctx context.Context, store Store, vertical, domain string, logger *zap.Logger) []types.HistoricalPlay {
	return similar(ctx, store, CollectionClients, vertical+" "+domain, vertical, logger)
}

// SimilarPlays returns past plays close to the vertical and a report excerpt.
// Failures and cold starts both yield an empty slice.
func SimilarPlays(ctx context.Context, store Store, vertical, researchSummary string, logger *zap.Logger) []types.HistoricalPlay {
	text := vertical + ": " + types.Truncate(researchSummary, 500)
	return similar(ctx, store, CollectionPlays, text, vertical, logger)
}

func similar(ctx context.Context, store Store, collection, text, vertical string, logger *zap.Logger) []types.HistoricalPlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	plays := []types.HistoricalPlay{}
	if store == nil {
		return plays
	}

	count, err := store.Count(ctx, collection)
	if err != nil {
		logger.Warn("memory count failed", zap.String("collection", collection), zap.Error(err))
		return plays
	}
	if count == 0 {
		logger.Info("no historical data yet, cold start", zap.String("collection", collection))
		return plays
	}

	matches, err := store.Query(ctx, collection, text, min(DefaultResults, count))
	if err != nil {
		logger.Warn("memory query failed", zap.String("collection", collection), zap.Error(err))
		return plays
	}

	for _, m := range matches {
		plays = append(plays, types.HistoricalPlay{
			ClientName:      metadataOr(m.Metadata, "client_name", "Unknown"),
			Vertical:        metadataOr(m.Metadata, "vertical", vertical),
			PlaySummary:     m.Text,
			Outcome:         m.Metadata["outcome"],
			SimilarityScore: m.Similarity,
		})
	}
	logger.Debug("memory matches", zap.String("collection", collection), zap.Int("count", len(plays)))
	return plays
}

func metadataOr(metadata map[string]string, key, fallback string) string {
	if v, ok := metadata[key]; ok && v != "" {
		return v
	}
	return fallback
}

// PlayDocuments renders refined plays as sales_plays records.
func PlayDocuments(client ClientProfile, plays []types.SalesPlay, now time.Time) []Document {
	createdAt := now.UTC().Format(time.RFC3339)
	docs := make([]Document, 0, len(plays))
	for _, p := range plays {
		docs = append(docs, Document{
			Text: p.Chain(),
			Metadata: map[string]string{
				"client_name":      client.ClientName,
				"vertical":         client.Vertical,
				"domain":           client.Domain,
				"title":            p.Title,
				"outcome":          types.Truncate(p.BusinessOutcome, outcomeMetadataLimit),
				"confidence_score": strconv.FormatFloat(p.ConfidenceScore, 'f', -1, 64),
				"created_at":       createdAt,
			},
		})
	}
	return docs
}

// ProfileDocument renders the aggregate client_profiles record for a run.
func ProfileDocument(client ClientProfile, plays []types.SalesPlay, now time.Time) Document {
	text := fmt.Sprintf("%s - %s / %s. %s Plays: %s",
		client.ClientName, client.Vertical, client.Domain,
		client.MaturitySummary, strings.Join(types.PlayTitles(plays), ", "))
	return Document{
		Text: text,
		Metadata: map[string]string{
			"client_name": client.ClientName,
			"vertical":    client.Vertical,
			"domain":      client.Domain,
			"outcome":     fmt.Sprintf("%d plays generated", len(plays)),
			"created_at":  now.UTC().Format(time.RFC3339),
		},
	}
}

// StorePlays writes one sales_plays record per play.
func StorePlays(ctx context.Context, store Store, client ClientProfile, plays []types.SalesPlay, now time.Time) (int, error) {
	if len(plays) == 0 {
		return 0, nil
	}
	return store.Add(ctx, CollectionPlays, PlayDocuments(client, plays, now))
}

// StoreClientProfile writes the aggregate client_profiles record.
func StoreClientProfile(ctx context.Context, store Store, client ClientProfile, plays []types.SalesPlay, now time.Time) error {
	_, err := store.Add(ctx, CollectionClients, []Document{ProfileDocument(client, plays, now)})
	return err
}
