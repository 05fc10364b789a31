// Package search indexes proposal snapshots for officer dashboards.
package search

import (
	"context"
	"time"

	"agenda/api/internal/agenda"
)

const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusArchived = "archived"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
	Level         string `json:"level"`
	Status        string `json:"status"`
	Score         int    `json:"score"`
	Department    string `json:"department"`
	ClosureReason string `json:"closureReason,omitempty"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	Text       string
	Level      string
	Status     string
	Department string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	AuthorName    string `json:"authorName"`
	Department    string `json:"department"`
	Facility      string `json:"facility"`
	Level         string `json:"level"`
	LevelRank     int    `json:"levelRank"`
	Score         int    `json:"score"`
	Status        string `json:"status"`
	ClosureReason string `json:"closureReason"`
	Feedback      string `json:"feedback"`
	Deadline      int64  `json:"deadline"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// RecordFromProposal flattens a snapshot into its index document.
func RecordFromProposal(p agenda.Proposal) ProposalRecord {
	record := ProposalRecord{
		ID:         p.ID,
		Title:      p.Title,
		AuthorName: p.Author.Name,
		Department: p.Author.Department,
		Facility:   p.Author.Facility,
		Level:      p.Level.String(),
		LevelRank:  int(p.Level),
		Score:      p.Score,
		Status:     StatusOpen,
		UpdatedAt:  unix(p.UpdatedAt),
	}
	if p.Deadline != nil {
		record.Deadline = unix(*p.Deadline)
	}
	if p.Closure != nil {
		record.Status = StatusClosed
		record.ClosureReason = string(p.Closure.Reason)
		record.Feedback = p.Closure.Feedback
	}
	if p.ArchivedAt != nil {
		record.Status = StatusArchived
	}
	return record
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func levelRank(name string) int {
	level, err := agenda.ParseLevel(name)
	if err != nil {
		return 0
	}
	return int(level)
}
