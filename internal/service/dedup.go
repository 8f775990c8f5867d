package service

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

const (
	dedupQuestionTopK = 5
	dedupPairTopK     = 3
)

// DedupConfig holds the similarity floor and the score used when the oracle fails
type DedupConfig struct {
	MinScore      float32
	FallbackScore float32
}

func DefaultDedupConfig() DedupConfig {
	return DedupConfig{MinScore: 0.75, FallbackScore: 0.9}
}

// StrictSearcher searches without degrading to a weaker mode on provider failure
type StrictSearcher interface {
	SearchStrict(ctx context.Context, q SearchQuery) ([]*domain.SearchResult, error)
}

// DedupDecision explains why a candidate pair was kept or discarded
type DedupDecision struct {
	Pair      domain.QAPair
	Duplicate bool
	Reason    string
	TopScore  float32
	Matched   *domain.SearchResult
}

// DedupService filters candidate pairs already present in the knowledge store.
// Under uncertainty it classifies a pair as duplicate.
type DedupService struct {
	store     StrictSearcher
	validator DuplicateValidator
	cfg       DedupConfig
	log       *logger.Logger
}

func NewDedupService(store StrictSearcher, validator DuplicateValidator, cfg DedupConfig, log *logger.Logger) *DedupService {
	return &DedupService{store: store, validator: validator, cfg: cfg, log: log}
}

// Filter returns the pairs confirmed unique, in input order
func (s *DedupService) Filter(ctx context.Context, pairs []domain.QAPair) []domain.QAPair {
	unique := make([]domain.QAPair, 0, len(pairs))
	for _, p := range pairs {
		d := s.Check(ctx, p)
		if d.Duplicate {
			kv := []interface{}{"reason", d.Reason, "score", d.TopScore, "question", p.Question}
			if d.Matched != nil {
				kv = append(kv, "matched_id", d.Matched.ID, "matched_question", d.Matched.Question)
			}
			s.log.Info("discarded duplicate candidate", kv...)
			continue
		}
		unique = append(unique, p)
	}
	return unique
}

// Check classifies one pair
func (s *DedupService) Check(ctx context.Context, pair domain.QAPair) DedupDecision {
	matches, err := s.matches(ctx, pair)
	if err != nil {
		s.log.Warn("duplicate search unavailable, treating pair as duplicate", "error", err, "question", pair.Question)
		return DedupDecision{Pair: pair, Duplicate: true, Reason: "search_unavailable"}
	}
	if len(matches) == 0 {
		return DedupDecision{Pair: pair, Reason: "no_match"}
	}

	top := matches[0]
	decision := DedupDecision{Pair: pair, TopScore: top.Score, Matched: top}

	verdict, err := s.validator.Validate(ctx, pair, matches)
	if err != nil {
		s.log.Warn("duplicate validation failed, using score fallback", "error", err, "score", top.Score)
		decision.Duplicate = top.Score >= s.cfg.FallbackScore
		if decision.Duplicate {
			decision.Reason = "score_fallback"
		} else {
			decision.Reason = "score_fallback_unique"
		}
		return decision
	}

	decision.Duplicate = verdict != VerdictUnique
	if decision.Duplicate {
		decision.Reason = "oracle_duplicate"
	} else {
		decision.Reason = "oracle_unique"
	}
	return decision
}

// matches runs the question-only and question+answer searches concurrently and
// merges them by question/answer identity, best score first. Either search
// failing fails the whole lookup.
func (s *DedupService) matches(ctx context.Context, pair domain.QAPair) ([]*domain.SearchResult, error) {
	var byQuestion, byPair []*domain.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byQuestion, err = s.store.SearchStrict(gctx, SearchQuery{
			Query:    pair.Question,
			TopK:     dedupQuestionTopK,
			MinScore: s.cfg.MinScore,
			Mode:     domain.SearchModeSemantic,
		})
		return err
	})
	g.Go(func() error {
		var err error
		byPair, err = s.store.SearchStrict(gctx, SearchQuery{
			Query:    pair.Question + "\n" + pair.Answer,
			TopK:     dedupPairTopK,
			MinScore: s.cfg.MinScore,
			Mode:     domain.SearchModeSemantic,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*domain.SearchResult, len(byQuestion)+len(byPair))
	for _, r := range append(byQuestion, byPair...) {
		if r == nil || r.Score < s.cfg.MinScore {
			continue
		}
		if existing, ok := merged[r.Key()]; !ok || r.Score > existing.Score {
			merged[r.Key()] = r
		}
	}

	out := make([]*domain.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
