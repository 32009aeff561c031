// Package dedup decides whether an embedded message repeats a recently
// created ticket.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/pkg/clock"
)

// Config holds the duplicate-detection parameters.
type Config struct {
	// Threshold is the similarity a candidate must strictly exceed.
	Threshold float64 `yaml:"threshold"`
	// Window bounds how far back candidates are searched.
	Window time.Duration `yaml:"window"`
	// K is the number of neighbours fetched per check.
	K int `yaml:"k"`
	// NumCandidates is the ANN search breadth (HNSW ef).
	NumCandidates int `yaml:"num_candidates"`
}

// DefaultConfig returns a 0.95 threshold over the last 24h.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.95,
		Window:        24 * time.Hour,
		K:             5,
		NumCandidates: 100,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("dedup: threshold must be in (0, 1] (got %.3f)", c.Threshold)
	}
	if c.Window <= 0 {
		return fmt.Errorf("dedup: window must be positive (got %v)", c.Window)
	}
	if c.K <= 0 {
		return fmt.Errorf("dedup: k must be positive (got %d)", c.K)
	}
	if c.NumCandidates < c.K {
		return fmt.Errorf("dedup: num_candidates (%d) must be >= k (%d)", c.NumCandidates, c.K)
	}
	return nil
}

// Decision is the outcome of one duplicate check.
type Decision struct {
	Duplicate   bool    `json:"duplicate"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
	Score       float64 `json:"score"`
	Candidates  int     `json:"candidates"`
}

// IsDuplicate reports whether any candidate's score strictly exceeds
// threshold. An empty candidate list is never a duplicate.
func IsDuplicate(candidates []semantic.Candidate, threshold float64) bool {
	for _, c := range candidates {
		if float64(c.Score) > threshold {
			return true
		}
	}
	return false
}

// Decide re-scores each candidate as the exact cosine between query and the
// candidate's stored vector, so the outcome does not depend on the index's
// approximate scoring. Candidates returned without a vector keep their index
// score. The best match is reported even when it is not a duplicate.
func Decide(query domain.Vector, candidates []semantic.Candidate, threshold float64) Decision {
	d := Decision{Candidates: len(candidates)}
	best := -2.0
	for _, c := range candidates {
		score := float64(c.Score)
		if len(c.Vector) == len(query) && len(query) > 0 {
			score = semantic.Cosine(query, c.Vector)
		}
		if score > best {
			best = score
			d.DuplicateOf = c.TicketID
		}
	}
	if len(candidates) == 0 {
		return d
	}
	d.Score = best
	d.Duplicate = best > threshold
	if !d.Duplicate {
		d.DuplicateOf = ""
	}
	return d
}

// Checker runs recency-scoped duplicate checks against a Searcher.
type Checker struct {
	search semantic.Searcher
	cfg    Config
	clock  clock.Clock
}

// NewChecker creates a Checker. A nil clock uses the system clock.
func NewChecker(search semantic.Searcher, cfg Config, clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Checker{search: search, cfg: cfg, clock: clk}
}

// Config returns the checker's configuration.
func (c *Checker) Config() Config { return c.cfg }

// Check searches the window ending now for neighbours of vec and decides.
func (c *Checker) Check(ctx context.Context, vec domain.Vector) (Decision, error) {
	cands, err := c.search.FindNearest(ctx, vec, c.cfg.K, semantic.Within(c.clock.Now(), c.cfg.Window))
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: search: %w", err)
	}
	return Decide(vec, cands, c.cfg.Threshold), nil
}
