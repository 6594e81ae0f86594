package episodes

import (
	"context"
	"testing"
	"time"

	"github.com/devforge/kernel/internal/entities"
)

// stubEmbedder returns a deterministic unit-ish vector derived from the
// text's length and first byte, just distinct enough to separate two
// clearly different strings under cosine similarity.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, vectorDim)
		for j := 0; j < len(t) && j < vectorDim; j++ {
			vec[j] = float32(t[j])
		}
		out[i] = vec
	}
	return out, nil
}

func TestAppendAndRetrieveOrdersBySimilarity(t *testing.T) {
	s, err := Open(t.TempDir(), "f1", stubEmbedder{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Append(context.Background(), entities.Episode{Goal: "implement login form"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(context.Background(), entities.Episode{Goal: "zzz completely unrelated gibberish content"}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Retrieve(context.Background(), "implement login form", RetrieveOpts{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Episode.Goal != "implement login form" {
		t.Fatalf("expected exact match to rank first, got %q", results[0].Episode.Goal)
	}
}

func TestRetrieveFiltersSuccessOnly(t *testing.T) {
	s, err := Open(t.TempDir(), "f2", stubEmbedder{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Append(context.Background(), entities.Episode{Goal: "attempt one", Outcome: entities.EpisodeOutcome{Success: false}})
	s.Append(context.Background(), entities.Episode{Goal: "attempt two", Outcome: entities.EpisodeOutcome{Success: true}})

	results, err := s.Retrieve(context.Background(), "attempt", RetrieveOpts{TopK: 10, SuccessOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Episode.Outcome.Success {
		t.Fatalf("expected only the successful episode, got %+v", results)
	}
}

func TestDecayFactorReducesOldMatches(t *testing.T) {
	fresh := decayFactor(0.9, 0)
	old := decayFactor(0.9, 365)
	if old >= fresh {
		t.Fatalf("expected decayed score to drop below fresh score: fresh=%f old=%f", fresh, old)
	}
}

func TestSummarizeCollapsesStaleEpisodes(t *testing.T) {
	s, err := Open(t.TempDir(), "f3", stubEmbedder{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	old := entities.Episode{Goal: "old work", Timestamp: time.Now().Add(-100 * 24 * time.Hour), Reflection: "it went fine"}
	recent := entities.Episode{Goal: "recent work", Timestamp: time.Now()}
	s.Append(context.Background(), old)
	s.Append(context.Background(), recent)

	if err := s.Summarize(context.Background(), 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected summary + recent episode, got %d: %+v", len(all), all)
	}
	foundSummary := false
	foundRecent := false
	for _, ep := range all {
		if ep.Goal == "recent work" {
			foundRecent = true
		}
		if ep.Goal != "recent work" && ep.Goal != "old work" {
			foundSummary = true
		}
	}
	if !foundSummary || !foundRecent {
		t.Fatalf("expected one summary episode and the recent episode preserved, got %+v", all)
	}
}
