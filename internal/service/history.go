package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloo-solutions/kbbot/internal/cache"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

const (
	historyWindow      = 20
	mailboxCapacity    = 64
	defaultMailboxIdle = 5 * time.Minute
	historyCachePrefix = "history:"
)

var (
	// ErrHistoryClosed is returned for operations submitted after Close
	ErrHistoryClosed = errors.New("history service closed")
	// ErrMailboxFull is returned when a conversation's queue cannot take a fire-and-forget append
	ErrMailboxFull = errors.New("conversation mailbox full")
)

// ConversationRepositoryInterface defines persistence of conversation messages
type ConversationRepositoryInterface interface {
	Append(ctx context.Context, m *domain.ConversationMessage) error
	Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error)
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.ConversationMessage, error)
}

// TranscriptSource returns conversations grouped by id for a calendar range
type TranscriptSource interface {
	ConversationsForDate(ctx context.Context, date time.Time) (domain.Transcripts, error)
	ConversationsForDateRange(ctx context.Context, start, end time.Time) (domain.Transcripts, error)
}

// HistoryConfig tunes the history service
type HistoryConfig struct {
	IdleTimeout time.Duration
	Location    *time.Location
}

// HistoryService sequences reads and writes per conversation through a mailbox
// goroutine, so a read always observes every append submitted before it.
// Reads are cache-first and fill the cache from the repository on a miss.
type HistoryService struct {
	repo    ConversationRepositoryInterface
	cache   cache.Cache
	uuidGen UUIDGenerator
	log     *logger.Logger
	idle    time.Duration
	loc     *time.Location
	now     func() time.Time

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	closed    bool
	quit      chan struct{}
	sending   sync.WaitGroup
	wg        sync.WaitGroup
}

type mailbox struct {
	ops chan historyOp
	// senders counts enqueues holding this mailbox outside s.mu; guarded by s.mu
	senders int
}

type historyOp struct {
	ctx    context.Context
	append *domain.ConversationMessage
	limit  int
	reply  chan historyReply
}

type historyReply struct {
	messages []domain.ConversationMessage
	err      error
}

func NewHistoryService(repo ConversationRepositoryInterface, c cache.Cache, log *logger.Logger, cfg HistoryConfig) *HistoryService {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultMailboxIdle
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryService{
		repo:      repo,
		cache:     c,
		uuidGen:   &DefaultUUIDGenerator{},
		log:       log,
		idle:      idle,
		loc:       loc,
		now:       time.Now,
		mailboxes: make(map[string]*mailbox),
		quit:      make(chan struct{}),
	}
}

// Append persists a message and waits for the write to finish
func (s *HistoryService) Append(ctx context.Context, m domain.ConversationMessage) error {
	if err := s.prepare(&m); err != nil {
		return err
	}
	reply := make(chan historyReply, 1)
	if err := s.enqueue(m.ConversationID, historyOp{ctx: ctx, append: &m, reply: reply}, true); err != nil {
		return err
	}
	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendAsync queues a message without waiting. A full mailbox drops the message;
// failures are logged.
func (s *HistoryService) AppendAsync(ctx context.Context, m domain.ConversationMessage) {
	if err := s.prepare(&m); err != nil {
		s.log.Warn("history append rejected", "conversation_id", m.ConversationID, "error", err)
		return
	}
	if err := s.enqueue(m.ConversationID, historyOp{ctx: context.WithoutCancel(ctx), append: &m}, false); err != nil {
		s.log.Warn("history append dropped", "conversation_id", m.ConversationID, "error", err)
	}
}

// Recent returns up to limit latest messages of a conversation, oldest first
func (s *HistoryService) Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	if conversationID == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if limit <= 0 || limit > historyWindow {
		limit = historyWindow
	}
	reply := make(chan historyReply, 1)
	if err := s.enqueue(conversationID, historyOp{ctx: ctx, limit: limit, reply: reply}, true); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.messages, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for queued operations to finish
func (s *HistoryService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()

	s.sending.Wait()

	s.mu.Lock()
	for id, mb := range s.mailboxes {
		close(mb.ops)
		delete(s.mailboxes, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ConversationsForDate returns all conversations with messages on date in the configured timezone
func (s *HistoryService) ConversationsForDate(ctx context.Context, date time.Time) (domain.Transcripts, error) {
	return s.ConversationsForDateRange(ctx, date, date)
}

// ConversationsForDateRange returns conversations from the start of start to the end of end, inclusive.
// Only the calendar fields of start and end are used; days are bounded in the configured timezone.
func (s *HistoryService) ConversationsForDateRange(ctx context.Context, start, end time.Time) (domain.Transcripts, error) {
	from := calendarDate(start, s.loc)
	to := calendarDate(end, s.loc).AddDate(0, 0, 1)

	msgs, err := s.repo.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := make(domain.Transcripts)
	for _, m := range msgs {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, nil
}

func (s *HistoryService) prepare(m *domain.ConversationMessage) error {
	if m.ID == "" {
		m.ID = s.uuidGen.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	if err := domain.ValidateConversationMessage(m); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid message", err)
	}
	return nil
}

// enqueue hands op to the conversation's mailbox. Only the lookup holds s.mu, so a
// stalled conversation cannot block the others. With wait it blocks until the
// mailbox has room or op.ctx is done; without it a full mailbox fails fast.
func (s *HistoryService) enqueue(conversationID string, op historyOp, wait bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrHistoryClosed
	}
	mb, ok := s.mailboxes[conversationID]
	if !ok {
		mb = &mailbox{ops: make(chan historyOp, mailboxCapacity)}
		s.mailboxes[conversationID] = mb
		s.wg.Add(1)
		go s.run(conversationID, mb)
	}
	mb.senders++
	s.sending.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		mb.senders--
		s.mu.Unlock()
		s.sending.Done()
	}()

	if !wait {
		select {
		case mb.ops <- op:
			return nil
		default:
			return ErrMailboxFull
		}
	}

	select {
	case mb.ops <- op:
		return nil
	case <-op.ctx.Done():
		return op.ctx.Err()
	case <-s.quit:
		return ErrHistoryClosed
	}
}

func (s *HistoryService) run(conversationID string, mb *mailbox) {
	defer s.wg.Done()

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case op, ok := <-mb.ops:
			if !ok {
				return
			}
			s.handle(conversationID, op)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idle)
		case <-timer.C:
			if len(mb.ops) > 0 {
				timer.Reset(s.idle)
				continue
			}
			if s.retire(conversationID, mb) {
				return
			}
			timer.Reset(s.idle)
		}
	}
}

// retire removes an idle mailbox unless work arrived in the meantime
func (s *HistoryService) retire(conversationID string, mb *mailbox) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || mb.senders > 0 || len(mb.ops) > 0 {
		return false
	}
	if s.mailboxes[conversationID] == mb {
		delete(s.mailboxes, conversationID)
	}
	return true
}

func (s *HistoryService) handle(conversationID string, op historyOp) {
	var r historyReply
	if op.append != nil {
		r.err = s.doAppend(op.ctx, op.append)
		if r.err != nil && op.reply == nil {
			s.log.Error("history append failed", "conversation_id", conversationID, "error", r.err)
		}
	} else {
		r.messages, r.err = s.doRecent(op.ctx, conversationID, op.limit)
	}
	if op.reply != nil {
		op.reply <- r
	}
}

func (s *HistoryService) doAppend(ctx context.Context, m *domain.ConversationMessage) error {
	if err := s.repo.Append(ctx, m); err != nil {
		return err
	}

	key := historyCachePrefix + m.ConversationID
	var window []domain.ConversationMessage
	ok, err := cache.GetJSON(ctx, s.cache, key, &window)
	if err != nil || !ok {
		return nil
	}
	window = append(window, *m)
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}
	if err := cache.SetJSON(ctx, s.cache, key, window); err != nil {
		s.log.Warn("history cache update failed", "conversation_id", m.ConversationID, "error", err)
		_ = s.cache.Delete(ctx, key)
	}
	return nil
}

func (s *HistoryService) doRecent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	key := historyCachePrefix + conversationID

	var window []domain.ConversationMessage
	ok, err := cache.GetJSON(ctx, s.cache, key, &window)
	if err != nil {
		s.log.Warn("history cache read failed", "conversation_id", conversationID, "error", err)
	}
	if !ok {
		window, err = s.repo.Recent(ctx, conversationID, historyWindow)
		if err != nil {
			return nil, err
		}
		if err := cache.SetJSON(ctx, s.cache, key, window); err != nil {
			s.log.Warn("history cache fill failed", "conversation_id", conversationID, "error", err)
		}
	}

	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

// calendarDate places the calendar day of t at midnight in loc
func calendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
