package search

import (
	"context"
	"log/slog"
	"sync"

	"agenda/api/internal/agenda"
)

type documentIndexer interface {
	Healthy() bool
	IndexProposal(record ProposalRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	docs   documentIndexer
	pgfts  Searcher
	logger *slog.Logger

	mu       sync.Mutex
	versions map[string]int
	queued   map[string]ProposalRecord
	pushing  map[string]bool
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts Searcher) *Service {
	s := &Service{
		meili:    meili,
		pgfts:    pgfts,
		logger:   slog.Default().With("component", "search"),
		versions: map[string]int{},
		queued:   map[string]ProposalRecord{},
		pushing:  map[string]bool{},
	}
	if meili != nil {
		s.docs = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProposal pushes a snapshot to Meilisearch without blocking the caller.
// Pushes for one proposal run one at a time in call order; a snapshot older
// than one already seen is dropped, and while a push is in flight only the
// newest waiting snapshot is kept. Postgres FTS reads the proposals table
// directly and needs no indexing.
func (s *Service) IndexProposal(p agenda.Proposal) {
	if s.docs == nil || !s.docs.Healthy() {
		return
	}
	record := RecordFromProposal(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.versions[p.ID]; ok && p.Version < last {
		s.logger.Debug("stale snapshot not indexed", "proposal_id", p.ID, "version", p.Version, "indexed", last)
		return
	}
	s.versions[p.ID] = p.Version
	s.queued[p.ID] = record
	if s.pushing[p.ID] {
		return
	}
	s.pushing[p.ID] = true
	go s.push(p.ID)
}

func (s *Service) push(id string) {
	for {
		s.mu.Lock()
		record, ok := s.queued[id]
		if !ok {
			delete(s.pushing, id)
			s.mu.Unlock()
			return
		}
		delete(s.queued, id)
		s.mu.Unlock()

		if err := s.docs.IndexProposal(record); err != nil {
			s.logger.Error("index proposal failed", "proposal_id", record.ID, "error", err)
		}
	}
}

// ReindexAllFromPG reindexes every proposal from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	loader, ok := s.pgfts.(*PgFTS)
	if !ok {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexProposals(records); err != nil {
		s.logger.Error("reindex proposals failed", "count", len(records), "error", err)
		return
	}
	s.logger.Info("search index rebuilt", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
