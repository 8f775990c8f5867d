package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

func msgAt(conv string, role domain.MessageRole, content string, minute int) domain.ConversationMessage {
	return domain.ConversationMessage{
		ConversationID: conv,
		Role:           role,
		UserID:         "U1",
		Content:        content,
		Timestamp:      time.Date(2024, 6, 1, 9, minute, 0, 0, time.UTC),
	}
}

func TestCurationService_Curate_BadgeDay(t *testing.T) {
	ctx := context.Background()
	extractor := new(MockExtractor)
	filter := new(MockPairFilter)
	svc := NewCurationService(extractor, filter, 15, logger.NewNop())

	transcripts := domain.Transcripts{
		"conv-1": {
			msgAt("conv-1", domain.MessageRoleAssistant, "Walk to the front desk", 2),
			msgAt("conv-1", domain.MessageRoleUser, "Good morning", 0),
			msgAt("conv-1", domain.MessageRoleUser, "How do I reset my badge?", 1),
		},
	}

	extractor.On("Extract", mock.Anything, "conv-1", mock.MatchedBy(func(msgs []domain.ConversationMessage) bool {
		return len(msgs) == 2 &&
			msgs[0].Content == "How do I reset my badge?" &&
			msgs[1].Content == "Walk to the front desk"
	})).Return([]domain.QAPair{badgePair}, nil)
	filter.On("Filter", mock.Anything, []domain.QAPair{badgePair}).Return([]domain.QAPair{badgePair})

	result := svc.Curate(ctx, transcripts)

	require.NotNil(t, result)
	assert.Equal(t, []domain.QAPair{badgePair}, result.Pairs)
	assert.Equal(t, 1, result.Conversations)
	assert.Equal(t, 2, result.Messages)
	assert.Equal(t, 1, result.Dropped)
	assert.Equal(t, 1, result.Extracted)
	assert.Empty(t, result.Failed)
	extractor.AssertExpectations(t)
}

func TestCurationService_Curate_SkipsFailingConversation(t *testing.T) {
	ctx := context.Background()
	extractor := new(MockExtractor)
	filter := new(MockPairFilter)
	svc := NewCurationService(extractor, filter, 5, logger.NewNop())

	parking := domain.QAPair{Question: "Where do visitors park?", Answer: "Level -2"}
	transcripts := domain.Transcripts{
		"a": {msgAt("a", domain.MessageRoleUser, "How do I reset my badge?", 0)},
		"b": {msgAt("b", domain.MessageRoleUser, "Where do visitors park?", 0)},
	}

	extractor.On("Extract", mock.Anything, "a", mock.Anything).Return(nil, errors.New("oracle timeout"))
	extractor.On("Extract", mock.Anything, "b", mock.Anything).Return([]domain.QAPair{parking}, nil)
	filter.On("Filter", mock.Anything, []domain.QAPair{parking}).Return([]domain.QAPair{parking})

	result := svc.Curate(ctx, transcripts)

	assert.Equal(t, []domain.QAPair{parking}, result.Pairs)
	assert.Equal(t, []string{"a"}, result.Failed)
}

func TestCurationService_Curate_DropsRepeatsAndSystemMessages(t *testing.T) {
	extractor := new(MockExtractor)
	filter := new(MockPairFilter)
	svc := NewCurationService(extractor, filter, 5, logger.NewNop())

	transcripts := domain.Transcripts{
		"a": {
			msgAt("a", domain.MessageRoleSystem, "user joined the channel", 0),
			msgAt("a", domain.MessageRoleUser, "Is the office open today?", 1),
		},
		"b": {
			msgAt("b", domain.MessageRoleUser, "  is the office   OPEN today?  ", 3),
		},
	}

	extractor.On("Extract", mock.Anything, "a", mock.Anything).Return([]domain.QAPair{}, nil)

	result := svc.Curate(context.Background(), transcripts)

	assert.Equal(t, 1, result.Conversations)
	assert.Equal(t, 1, result.Messages)
	assert.Equal(t, 2, result.Dropped)
	assert.Empty(t, result.Pairs)
	extractor.AssertNotCalled(t, "Extract", mock.Anything, "b", mock.Anything)
	filter.AssertNotCalled(t, "Filter", mock.Anything, mock.Anything)
}

func TestCurationService_Curate_Empty(t *testing.T) {
	svc := NewCurationService(new(MockExtractor), new(MockPairFilter), 5, logger.NewNop())

	result := svc.Curate(context.Background(), domain.Transcripts{})

	assert.NotNil(t, result.Pairs)
	assert.Empty(t, result.Pairs)
	assert.Zero(t, result.Conversations)
}

func TestUniquePairs(t *testing.T) {
	pairs := []domain.QAPair{
		{Question: "How do I reset my badge?", Answer: "Front desk"},
		{Question: "how do I  reset my BADGE?", Answer: "Ask security"},
		{Question: "Where is parking?", Answer: "Level -2"},
	}

	out := uniquePairs(pairs)

	require.Len(t, out, 2)
	assert.Equal(t, "Front desk", out[0].Answer)
	assert.Equal(t, "Where is parking?", out[1].Question)
}
