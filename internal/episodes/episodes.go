// Package episodes implements episode memory (§4.7): an append-only JSONL
// stream of completed units of work, a parallel fixed-record-size
// embeddings file, cosine-similarity retrieval with a time-decay
// multiplier, and periodic age-based summarization.
package episodes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devforge/kernel/internal/entities"
)

// Embedder converts text into vectors. Production bindings adapt an
// embedding-model client; the kernel never imports one directly (§4.17).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reflector generates the short reflection text recorded against each
// episode, over (goal, actions, outcome, cost, duration, recovery level).
type Reflector interface {
	Reflect(ctx context.Context, ep entities.Episode) (string, error)
}

// vectorDim is the fixed embedding width stored in embeddings.bin. Each
// record is vectorDim*4 bytes (float32), enabling O(1) random access by
// position and a linear full scan.
const vectorDim = 256

// Store is one scope's episode log (a feature, a bug, or the kernel-wide
// default scope) plus its parallel embeddings file.
type Store struct {
	mu         sync.Mutex
	logPath    string
	vecPath    string
	embedder   Embedder
	reflector  Reflector
}

// Open binds a Store to <root>/episodes/<scope>.jsonl and
// <root>/episodes/<scope>.embeddings.bin, creating the episodes directory
// if needed. scope "" uses the shared filenames from §6:
// <root>/episodes/episodes.jsonl and <root>/episodes/embeddings.bin.
func Open(root, scope string, embedder Embedder, reflector Reflector) (*Store, error) {
	dir := filepath.Join(root, "episodes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("episodes: create dir: %w", err)
	}
	base, vecName := "episodes", "embeddings.bin"
	if scope != "" {
		base, vecName = scope, scope+".embeddings.bin"
	}
	return &Store{
		logPath:   filepath.Join(dir, base+".jsonl"),
		vecPath:   filepath.Join(dir, vecName),
		embedder:  embedder,
		reflector: reflector,
	}, nil
}

// RecordAttempt implements recovery.EpisodeRecorder: every recovery
// attempt, successful or not, is written as an episode.
func (s *Store) RecordAttempt(ctx context.Context, ep entities.Episode) error {
	_, err := s.Append(ctx, ep)
	return err
}

// Append writes one episode: it assigns an id and timestamp if unset,
// generates a reflection if a Reflector is configured, embeds the
// reflection (falling back to the goal text), and appends both the JSONL
// record and its fixed-size vector at the same offset.
func (s *Store) Append(ctx context.Context, ep entities.Episode) (entities.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}

	if ep.Reflection == "" && s.reflector != nil {
		if text, err := s.reflector.Reflect(ctx, ep); err == nil {
			ep.Reflection = text
		}
	}

	retrievalText := ep.Reflection
	if retrievalText == "" {
		retrievalText = ep.Goal
	}

	vec := make([]float32, vectorDim)
	if s.embedder != nil && retrievalText != "" {
		if vecs, err := s.embedder.Embed(ctx, []string{retrievalText}); err == nil && len(vecs) == 1 {
			copy(vec, vecs[0])
		}
	}
	ep.Embedding = vec

	data, err := json.Marshal(ep)
	if err != nil {
		return ep, fmt.Errorf("episodes: marshal: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ep, fmt.Errorf("episodes: open log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return ep, fmt.Errorf("episodes: write log: %w", err)
	}
	if err := f.Close(); err != nil {
		return ep, fmt.Errorf("episodes: close log: %w", err)
	}

	if err := s.appendVector(vec); err != nil {
		return ep, err
	}
	return ep, nil
}

func (s *Store) appendVector(vec []float32) error {
	f, err := os.OpenFile(s.vecPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("episodes: open vectors: %w", err)
	}
	defer f.Close()

	buf := make([]byte, vectorDim*4)
	for i, v := range vec {
		if i >= vectorDim {
			break
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err = f.Write(buf)
	return err
}

// readVectorAt does an O(1) random-access read of the vector at record
// position idx.
func (s *Store) readVectorAt(idx int) ([]float32, error) {
	f, err := os.Open(s.vecPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recordSize := int64(vectorDim * 4)
	if _, err := f.Seek(int64(idx)*recordSize, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, recordSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	vec := make([]float32, vectorDim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// All returns every episode currently in the log, tolerating a truncated
// trailing line, in append order (so record index == line index, matching
// the parallel embeddings file).
func (s *Store) All() ([]entities.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *Store) readAll() ([]entities.Episode, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("episodes: open log: %w", err)
	}
	defer f.Close()

	var out []entities.Episode
	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var ep entities.Episode
			if uerr := json.Unmarshal(trimmed, &ep); uerr == nil {
				out = append(out, ep)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return out, fmt.Errorf("episodes: read log: %w", rerr)
		}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// decayFactor applies the time-decay multiplier: similarity raised to the
// power of age-in-days, so a perfect match from a year ago decays toward
// zero while a recent one stays near its raw similarity.
func decayFactor(similarity float32, ageDays float64) float32 {
	if ageDays <= 0 {
		return similarity
	}
	return float32(math.Pow(float64(similarity), ageDays))
}

// RetrievalResult pairs an episode with its decayed similarity score.
type RetrievalResult struct {
	Episode entities.Episode
	Score   float32
}

// RetrieveOpts bounds a Retrieve call.
type RetrieveOpts struct {
	TopK          int
	SuccessOnly   bool
	MinSimilarity float32
}

// Retrieve embeds query, scores every stored episode by cosine similarity
// against its stored vector with the time-decay multiplier applied, and
// returns the top-k filtered by success when requested.
func (s *Store) Retrieve(ctx context.Context, query string, opts RetrieveOpts) ([]RetrievalResult, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("episodes: embed query: %w", err)
	}
	queryVec := vecs[0]

	eps, err := s.All()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var results []RetrievalResult
	for i, ep := range eps {
		if opts.SuccessOnly && !ep.Outcome.Success {
			continue
		}
		vec := ep.Embedding
		if len(vec) == 0 {
			if v, err := s.readVectorAt(i); err == nil {
				vec = v
			}
		}
		sim := cosineSimilarity(queryVec, vec)
		ageDays := now.Sub(ep.Timestamp).Hours() / 24
		score := decayFactor(sim, ageDays)
		if score < opts.MinSimilarity {
			continue
		}
		results = append(results, RetrievalResult{Episode: ep, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	k := opts.TopK
	if k <= 0 || k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// SimilarEpisodes implements checkpoint.EpisodeSource: a thin adapter
// returning the top-k retrieved episodes as SimilarDecision entries for a
// composed checkpoint question.
func (s *Store) SimilarEpisodes(ctx context.Context, query string, k int) ([]entities.SimilarDecision, error) {
	results, err := s.Retrieve(ctx, query, RetrieveOpts{TopK: k})
	if err != nil {
		return nil, err
	}
	out := make([]entities.SimilarDecision, 0, len(results))
	for _, r := range results {
		out = append(out, entities.SimilarDecision{
			Description: r.Episode.Goal,
			Choice:      r.Episode.Reflection,
			Similarity:  r.Score,
		})
	}
	return out, nil
}

// Summarize replaces every episode older than maxAge with a single summary
// episode that preserves the aggregate outcome and concatenated reflection
// text, bounding the log's size (§4.7, §9 embedding-storage note: vectors
// are re-embedded rather than carried forward across the rewrite).
func (s *Store) Summarize(ctx context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.readAll()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)

	var recent []entities.Episode
	var stale []entities.Episode
	for _, ep := range eps {
		if ep.Timestamp.Before(cutoff) {
			stale = append(stale, ep)
		} else {
			recent = append(recent, ep)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	summary := summarize(stale)

	if err := os.Remove(s.logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("episodes: summarize: remove log: %w", err)
	}
	if err := os.Remove(s.vecPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("episodes: summarize: remove vectors: %w", err)
	}

	if _, err := s.appendLocked(ctx, summary); err != nil {
		return err
	}
	for _, ep := range recent {
		if _, err := s.appendLocked(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

// appendLocked is Append's body without re-acquiring s.mu, used internally
// by Summarize which already holds the lock.
func (s *Store) appendLocked(ctx context.Context, ep entities.Episode) (entities.Episode, error) {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.NewString()
	}
	retrievalText := ep.Reflection
	if retrievalText == "" {
		retrievalText = ep.Goal
	}
	vec := ep.Embedding
	if len(vec) == 0 {
		vec = make([]float32, vectorDim)
		if s.embedder != nil && retrievalText != "" {
			if vecs, err := s.embedder.Embed(ctx, []string{retrievalText}); err == nil && len(vecs) == 1 {
				copy(vec, vecs[0])
			}
		}
	}
	ep.Embedding = vec

	data, err := json.Marshal(ep)
	if err != nil {
		return ep, fmt.Errorf("episodes: marshal: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ep, fmt.Errorf("episodes: open log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return ep, fmt.Errorf("episodes: write log: %w", err)
	}
	if err := f.Close(); err != nil {
		return ep, fmt.Errorf("episodes: close log: %w", err)
	}
	if err := s.appendVector(vec); err != nil {
		return ep, err
	}
	return ep, nil
}

func summarize(stale []entities.Episode) entities.Episode {
	var successCount int
	var totalCost float64
	var totalDuration float64
	var reflections []string
	for _, ep := range stale {
		if ep.Outcome.Success {
			successCount++
		}
		totalCost += ep.CostUSD
		totalDuration += ep.DurationSeconds
		if ep.Reflection != "" {
			reflections = append(reflections, ep.Reflection)
		}
	}
	reflectionText := fmt.Sprintf("summary of %d episodes (%d succeeded): %s", len(stale), successCount, joinTrim(reflections, 10))
	return entities.Episode{
		Goal:            fmt.Sprintf("[summary of %d prior episodes]", len(stale)),
		Timestamp:       time.Now(),
		Reflection:      reflectionText,
		CostUSD:         totalCost,
		DurationSeconds: totalDuration,
		Outcome:         entities.EpisodeOutcome{Success: successCount == len(stale)},
	}
}

func joinTrim(parts []string, max int) string {
	if len(parts) > max {
		parts = parts[len(parts)-max:]
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " | "
		}
		out += p
	}
	return out
}
