package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/embeddings"
	"github.com/fyrsmithlabs/conductor/internal/failover"
	"github.com/fyrsmithlabs/conductor/internal/graph"
)

var tracer = otel.Tracer("conductor.memory")

var timeNow = time.Now

// Linker records graph edges. *graph.Layer satisfies it.
type Linker interface {
	Link(ctx context.Context, from graph.Ref, relation string, to graph.Ref) (graph.Edge, error)
}

// Scrubber redacts secrets from text. *secrets.Redactor satisfies it.
type Scrubber interface {
	Scrub(text string) string
}

// Store is the memory store.
type Store struct {
	embedder  embeddings.Embedder
	primary   Backend
	secondary Backend
	selector  *failover.Selector
	linker    Linker
	scrubber  Scrubber
	logger    *zap.Logger

	// Serializes AddUnique so two identical concurrent calls store once.
	uniqueMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSelector injects the backend selector.
func WithSelector(sel *failover.Selector) Option {
	return func(s *Store) { s.selector = sel }
}

// WithLinker links each new record to its scope.
func WithLinker(l Linker) Option {
	return func(s *Store) { s.linker = l }
}

// WithScrubber redacts text before it is embedded or stored.
func WithScrubber(sc Scrubber) Option {
	return func(s *Store) { s.scrubber = sc }
}

// NewStore creates a store. primary may be nil, in which case the store runs
// on secondary alone. secondary defaults to an in-process scan backend.
func NewStore(embedder embeddings.Embedder, primary, secondary Backend, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("memory: embedder is required")
	}
	s := &Store{
		embedder:  embedder,
		primary:   primary,
		secondary: secondary,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secondary == nil {
		s.secondary = NewScanBackend("memory", NewMemoryLog())
	}
	if s.selector == nil {
		mode := failover.ModeAuto
		if s.primary == nil {
			mode = failover.ModeSecondary
		}
		s.selector = failover.NewSelector("memory", mode, s.logger)
	}
	if s.primary == nil && !s.selector.UseSecondary() {
		s.selector.Degrade(errNoPrimary)
	}
	return s, nil
}

var errNoPrimary = errors.New("no primary backend configured")

// ContentHash is the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Add embeds text and stores it in scopeID.
func (s *Store) Add(ctx context.Context, scopeID, text string, metadata map[string]string) (Record, error) {
	ctx, span := tracer.Start(ctx, "memory.Add")
	defer span.End()
	span.SetAttributes(attribute.String("memory.scope_id", scopeID))

	rec, err := s.add(ctx, scopeID, text, metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add failed")
		return Record{}, err
	}
	return rec, nil
}

// AddUnique stores text unless a record with the same content hash already
// exists in scopeID, in which case that record is returned.
func (s *Store) AddUnique(ctx context.Context, scopeID, text string, metadata map[string]string) (Record, error) {
	ctx, span := tracer.Start(ctx, "memory.AddUnique")
	defer span.End()
	span.SetAttributes(attribute.String("memory.scope_id", scopeID))

	if scopeID == "" {
		return Record{}, ErrEmptyScope
	}

	s.uniqueMu.Lock()
	defer s.uniqueMu.Unlock()

	hash := ContentHash(text)
	existing, err := failover.Do(ctx, s.selector, "find_by_hash",
		func(ctx context.Context) (*Record, error) { return s.primaryBackend().FindByHash(ctx, scopeID, hash) },
		func(ctx context.Context) (*Record, error) { return s.secondary.FindByHash(ctx, scopeID, hash) },
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return Record{}, fmt.Errorf("lookup %s: %w", scopeID, err)
	}
	if existing != nil {
		DuplicatesSkipped.Inc()
		span.SetAttributes(attribute.Bool("memory.duplicate", true))
		return *existing, nil
	}

	rec, err := s.add(ctx, scopeID, text, metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add failed")
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) add(ctx context.Context, scopeID, text string, metadata map[string]string) (Record, error) {
	if scopeID == "" {
		return Record{}, ErrEmptyScope
	}

	hash := ContentHash(text)
	stored := text
	if s.scrubber != nil {
		stored = s.scrubber.Scrub(text)
	}

	vec, err := s.embedder.Embed(ctx, stored)
	if err != nil {
		return Record{}, fmt.Errorf("embed: %w", err)
	}
	embeddings.Normalize(vec)

	meta := cloneMeta(metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[MetaContentHash] = hash

	rec := Record{
		ID:        uuid.NewString(),
		ScopeID:   scopeID,
		Text:      stored,
		Vector:    vec,
		Metadata:  meta,
		CreatedAt: timeNow().UTC(),
	}

	backend, err := failover.Do(ctx, s.selector, "insert",
		func(ctx context.Context) (string, error) {
			p := s.primaryBackend()
			if err := p.Insert(ctx, rec); err != nil {
				return "", err
			}
			if err := s.secondary.Insert(ctx, rec); err != nil {
				s.logger.Warn("mirroring memory to secondary failed",
					zap.String("memory_id", rec.ID), zap.Error(err))
			}
			return p.Name(), nil
		},
		func(ctx context.Context) (string, error) {
			return s.secondary.Name(), s.secondary.Insert(ctx, rec)
		},
	)
	if err != nil {
		OperationsTotal.WithLabelValues("add", s.primaryBackend().Name(), "error").Inc()
		return Record{}, fmt.Errorf("insert into %s: %w", scopeID, err)
	}
	OperationsTotal.WithLabelValues("add", backend, "success").Inc()

	if s.linker != nil {
		_, err := s.linker.Link(ctx,
			graph.Ref{Type: graph.NodeScope, ID: scopeID},
			graph.RelHasMemory,
			graph.Ref{Type: graph.NodeMemory, ID: rec.ID},
		)
		if err != nil {
			s.logger.Warn("linking memory to scope failed",
				zap.String("scope_id", scopeID),
				zap.String("memory_id", rec.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("memory stored",
		zap.String("scope_id", scopeID),
		zap.String("memory_id", rec.ID),
		zap.String("backend", backend),
	)
	return rec, nil
}

// Search returns at most topK records of scopeID, best match first. Ties
// prefer the newer record. An empty or all-stopword query degenerates to the
// most recent records.
func (s *Store) Search(ctx context.Context, scopeID, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	if scopeID == "" {
		return nil, ErrEmptyScope
	}

	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("memory.scope_id", scopeID),
		attribute.Int("memory.top_k", topK),
	)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embeddings.Normalize(vec)

	var backend string
	hits, err := failover.Do(ctx, s.selector, "search",
		func(ctx context.Context) ([]Hit, error) {
			backend = s.primaryBackend().Name()
			return searchRanked(ctx, s.primaryBackend(), scopeID, vec, topK)
		},
		func(ctx context.Context) ([]Hit, error) {
			backend = s.secondary.Name()
			return searchRanked(ctx, s.secondary, scopeID, vec, topK)
		},
	)
	if err != nil {
		OperationsTotal.WithLabelValues("search", backend, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("search %s: %w", scopeID, err)
	}
	OperationsTotal.WithLabelValues("search", backend, "success").Inc()

	if len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []Hit{}
	}

	SearchResults.Observe(float64(len(hits)))
	span.SetAttributes(
		attribute.String("memory.backend", backend),
		attribute.Int("memory.results", len(hits)),
	)
	return hits, nil
}

// Status reports which backend is serving.
func (s *Store) Status() failover.Status {
	return s.selector.Status()
}

// Close closes both backends.
func (s *Store) Close() error {
	var errs []error
	if s.primary != nil {
		errs = append(errs, s.primary.Close())
	}
	errs = append(errs, s.secondary.Close())
	return errors.Join(errs...)
}

// primaryBackend returns a backend that always errors when none is set, so
// pinned-primary mode without a primary fails loudly instead of panicking.
func (s *Store) primaryBackend() Backend {
	if s.primary == nil {
		return missingBackend{}
	}
	return s.primary
}

// searchRanked returns b's hits in final rank order, holding every record
// that ties with the topK-th score. Backends cut at topK by their own
// ordering, so the limit doubles until the first hit past the cutoff scores
// strictly lower or the scope is exhausted. Zero queries are ordered by
// recency in the backend already.
func searchRanked(ctx context.Context, b Backend, scopeID string, vec []float32, topK int) ([]Hit, error) {
	if isZero(vec) {
		hits, err := b.Search(ctx, scopeID, vec, topK)
		if err != nil {
			return nil, err
		}
		rank(hits)
		return hits, nil
	}
	for limit := topK; ; limit *= 2 {
		hits, err := b.Search(ctx, scopeID, vec, limit+1)
		if err != nil {
			return nil, err
		}
		rescore(hits, vec)
		rank(hits)
		if len(hits) <= limit || hits[limit].Score < hits[topK-1].Score {
			return hits, nil
		}
	}
}

// rescore replaces backend scores with exact dot products where the backend
// returned the stored vector.
func rescore(hits []Hit, query []float32) {
	for i := range hits {
		if len(hits[i].Record.Vector) == len(query) {
			hits[i].Score = embeddings.Dot(query, hits[i].Record.Vector)
		}
	}
}

type missingBackend struct{}

func (missingBackend) Name() string                         { return "none" }
func (missingBackend) Insert(context.Context, Record) error { return errNoPrimary }
func (missingBackend) Close() error                         { return nil }
func (missingBackend) Search(context.Context, string, []float32, int) ([]Hit, error) {
	return nil, errNoPrimary
}
func (missingBackend) FindByHash(context.Context, string, string) (*Record, error) {
	return nil, errNoPrimary
}
