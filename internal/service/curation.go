package service

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// PairFilter removes pairs already known to the knowledge store
type PairFilter interface {
	Filter(ctx context.Context, pairs []domain.QAPair) []domain.QAPair
}

// CurationResult reports what a curation run produced
type CurationResult struct {
	Pairs         []domain.QAPair
	Conversations int
	Messages      int
	Dropped       int
	Extracted     int
	Failed        []string
}

// CurationService turns transcripts into de-duplicated candidate pairs
type CurationService struct {
	extractor    Extractor
	filter       PairFilter
	minMsgLength int
	log          *logger.Logger
}

func NewCurationService(extractor Extractor, filter PairFilter, minMessageLength int, log *logger.Logger) *CurationService {
	return &CurationService{
		extractor:    extractor,
		filter:       filter,
		minMsgLength: minMessageLength,
		log:          log,
	}
}

// Curate prefilters transcripts, extracts pairs per conversation and drops
// anything already known. A failing conversation is skipped, not fatal.
func (s *CurationService) Curate(ctx context.Context, transcripts domain.Transcripts) *CurationResult {
	ctx, span := telemetry.StartSpan(ctx, "CurationService.Curate", telemetry.SpanAttributes{
		Operation: "curate",
	})
	defer span.End()

	filtered, dropped := s.prefilter(transcripts)
	result := &CurationResult{
		Conversations: len(filtered),
		Messages:      filtered.Len(),
		Dropped:       dropped,
		Pairs:         []domain.QAPair{},
	}

	ids := make([]string, 0, len(filtered))
	for id := range filtered {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var candidates []domain.QAPair
	for _, id := range ids {
		pairs, err := s.extractor.Extract(ctx, id, filtered[id])
		if err != nil {
			s.log.Warn("extraction failed, skipping conversation", "conversation_id", id, "error", err)
			result.Failed = append(result.Failed, id)
			continue
		}
		candidates = append(candidates, pairs...)
	}
	candidates = uniquePairs(candidates)
	result.Extracted = len(candidates)

	if len(candidates) > 0 {
		result.Pairs = s.filter.Filter(ctx, candidates)
	}

	s.log.Info("curation finished",
		"conversations", result.Conversations,
		"messages", result.Messages,
		"dropped", result.Dropped,
		"extracted", result.Extracted,
		"kept", len(result.Pairs),
		"failed", len(result.Failed),
	)
	return result
}

// prefilter drops short messages and exact repeats across the whole batch
func (s *CurationService) prefilter(transcripts domain.Transcripts) (domain.Transcripts, int) {
	ids := make([]string, 0, len(transcripts))
	for id := range transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]struct{})
	out := make(domain.Transcripts)
	dropped := 0
	for _, id := range ids {
		msgs := append([]domain.ConversationMessage(nil), transcripts[id]...)
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })

		for _, m := range msgs {
			content := strings.TrimSpace(m.Content)
			if m.Role == domain.MessageRoleSystem || utf8.RuneCountInString(content) < s.minMsgLength {
				dropped++
				continue
			}
			key := normalizeText(content)
			if _, dup := seen[key]; dup {
				dropped++
				continue
			}
			seen[key] = struct{}{}
			m.Content = content
			out[id] = append(out[id], m)
		}
	}
	return out, dropped
}

// uniquePairs keeps the first pair for every normalized question
func uniquePairs(pairs []domain.QAPair) []domain.QAPair {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]domain.QAPair, 0, len(pairs))
	for _, p := range pairs {
		key := normalizeText(p.Question)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
