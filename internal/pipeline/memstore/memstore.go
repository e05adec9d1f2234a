// Package memstore is an in-memory ports.Store. Transactions serialize on a
// single mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"

	"github.com/google/uuid"
)

type data struct {
	stages        map[uuid.UUID]domain.Stage
	contacts      map[uuid.UUID]domain.Contact
	opportunities map[uuid.UUID]domain.Opportunity
	conversations map[uuid.UUID]domain.Conversation
	messages      map[uuid.UUID]domain.Message
	signals       map[uuid.UUID]domain.ExternalSignal
	transitions   []domain.StageTransition
}

func newData() *data {
	return &data{
		stages:        map[uuid.UUID]domain.Stage{},
		contacts:      map[uuid.UUID]domain.Contact{},
		opportunities: map[uuid.UUID]domain.Opportunity{},
		conversations: map[uuid.UUID]domain.Conversation{},
		messages:      map[uuid.UUID]domain.Message{},
		signals:       map[uuid.UUID]domain.ExternalSignal{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (d *data) clone() *data {
	return &data{
		stages:        cloneMap(d.stages),
		contacts:      cloneMap(d.contacts),
		opportunities: cloneMap(d.opportunities),
		conversations: cloneMap(d.conversations),
		messages:      cloneMap(d.messages),
		signals:       cloneMap(d.signals),
		transitions:   append([]domain.StageTransition(nil), d.transitions...),
	}
}

type faults struct {
	mu           sync.Mutex
	insertErrors map[uuid.UUID]error
	cascadeErr   error
}

// Store implements ports.Store and ports.Transactor.
type Store struct {
	mu     *sync.Mutex
	d      *data
	inTx   bool
	faults *faults
	now    func() time.Time
}

var (
	_ ports.Store      = (*Store)(nil)
	_ ports.Transactor = (*Store)(nil)
)

func New() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		d:      newData(),
		faults: &faults{insertErrors: map[uuid.UUID]error{}},
		now:    time.Now,
	}
}

func (s *Store) acquire() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &Store{mu: s.mu, d: s.d, inTx: true, faults: s.faults, now: s.now}
	if err := fn(ctx, tx); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

// FailInsertFor makes InsertMessage fail for the conversation.
func (s *Store) FailInsertFor(conversationID uuid.UUID, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.insertErrors[conversationID] = err
}

// FailConversationStageUpdate makes SetConversationStage fail.
func (s *Store) FailConversationStageUpdate(err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.cascadeErr = err
}

// =============================================================================
// Seeding
// =============================================================================

func (s *Store) AddStage(st domain.Stage) domain.Stage {
	defer s.acquire()()
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	s.d.stages[st.ID] = st
	return st
}

func (s *Store) AddContact(c domain.Contact) domain.Contact {
	defer s.acquire()()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.d.contacts[c.ID] = c
	return c
}

func (s *Store) AddOpportunity(o domain.Opportunity) domain.Opportunity {
	defer s.acquire()()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now()
	}
	s.d.opportunities[o.ID] = o
	return o
}

func (s *Store) AddConversation(c domain.Conversation) domain.Conversation {
	defer s.acquire()()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.d.conversations[c.ID] = c
	return c
}

// AddMessage stores a message without touching the conversation summary.
func (s *Store) AddMessage(m domain.Message) domain.Message {
	defer s.acquire()()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = domain.MessageStatusConfirmed
	}
	s.d.messages[m.ID] = m
	return m
}

func (s *Store) AddSignal(sig domain.ExternalSignal) domain.ExternalSignal {
	defer s.acquire()()
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	s.d.signals[sig.ID] = sig
	return sig
}

// =============================================================================
// Stages and contacts
// =============================================================================

func (s *Store) ListStages(_ context.Context, userID uuid.UUID) ([]domain.Stage, error) {
	defer s.acquire()()
	out := make([]domain.Stage, 0)
	for _, st := range s.d.stages {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetStage(_ context.Context, userID, stageID uuid.UUID) (domain.Stage, error) {
	defer s.acquire()()
	st, ok := s.d.stages[stageID]
	if !ok || st.UserID != userID {
		return domain.Stage{}, ports.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetContact(_ context.Context, userID, contactID uuid.UUID) (domain.Contact, error) {
	defer s.acquire()()
	c, ok := s.d.contacts[contactID]
	if !ok || c.UserID != userID {
		return domain.Contact{}, ports.ErrNotFound
	}
	return c, nil
}

// =============================================================================
// Opportunities
// =============================================================================

func (s *Store) GetOpportunity(_ context.Context, userID, opportunityID uuid.UUID) (domain.Opportunity, error) {
	defer s.acquire()()
	o, ok := s.d.opportunities[opportunityID]
	if !ok || o.UserID != userID {
		return domain.Opportunity{}, ports.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOpportunities(_ context.Context, userID uuid.UUID, filter ports.OpportunityFilter) ([]domain.Opportunity, error) {
	defer s.acquire()()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]domain.Opportunity, 0)
	for _, o := range s.d.opportunities {
		if o.UserID != userID {
			continue
		}
		if filter.Priority != nil && (o.Priority == nil || *o.Priority != *filter.Priority) {
			continue
		}
		if filter.CategoryID != nil && (o.CategoryID == nil || *o.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.ChallengeID != nil && (o.ChallengeID == nil || *o.ChallengeID != *filter.ChallengeID) {
			continue
		}
		if search != "" && !matchesSearch(o, search) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func matchesSearch(o domain.Opportunity, search string) bool {
	if strings.Contains(strings.ToLower(o.Title), search) {
		return true
	}
	return o.Notes != nil && strings.Contains(strings.ToLower(*o.Notes), search)
}

func (s *Store) UpdateOpportunity(_ context.Context, userID, opportunityID uuid.UUID, patch domain.OpportunityPatch) (domain.Opportunity, error) {
	defer s.acquire()()
	o, ok := s.d.opportunities[opportunityID]
	if !ok || o.UserID != userID {
		return domain.Opportunity{}, ports.ErrNotFound
	}
	if patch.IsEmpty() {
		return o, nil
	}
	patch.Apply(&o)
	o.UpdatedAt = s.now()
	s.d.opportunities[o.ID] = o
	return o, nil
}

func (s *Store) DeleteOpportunity(_ context.Context, userID, opportunityID uuid.UUID) error {
	defer s.acquire()()
	o, ok := s.d.opportunities[opportunityID]
	if !ok || o.UserID != userID {
		return ports.ErrNotFound
	}
	delete(s.d.opportunities, opportunityID)

	for id, c := range s.d.conversations {
		if c.OpportunityID != nil && *c.OpportunityID == opportunityID {
			delete(s.d.conversations, id)
			for mid, m := range s.d.messages {
				if m.ConversationID == id {
					delete(s.d.messages, mid)
				}
			}
			for sid, sig := range s.d.signals {
				if sig.ConversationID != nil && *sig.ConversationID == id {
					sig.ConversationID = nil
					s.d.signals[sid] = sig
				}
			}
		}
	}

	kept := s.d.transitions[:0]
	for _, t := range s.d.transitions {
		if t.OpportunityID != opportunityID {
			kept = append(kept, t)
		}
	}
	s.d.transitions = kept
	return nil
}

func (s *Store) ListConversationsForOpportunity(_ context.Context, userID uuid.UUID, opp domain.Opportunity) ([]domain.Conversation, error) {
	defer s.acquire()()
	if opp.UserID != userID {
		return []domain.Conversation{}, nil
	}
	return domain.ConversationsOfOpportunity(opp, s.sortedConversations(userID)), nil
}

func (s *Store) SetConversationStage(_ context.Context, userID, opportunityID uuid.UUID, stageID *uuid.UUID) (int64, error) {
	defer s.acquire()()
	s.faults.mu.Lock()
	injected := s.faults.cascadeErr
	s.faults.mu.Unlock()

	var n int64
	for id, c := range s.d.conversations {
		if c.UserID != userID || c.OpportunityID == nil || *c.OpportunityID != opportunityID {
			continue
		}
		if injected != nil {
			return n, injected
		}
		c.StageID = stageID
		c.UpdatedAt = s.now()
		s.d.conversations[id] = c
		n++
	}
	return n, nil
}

func (s *Store) RecordStageTransition(_ context.Context, t domain.StageTransition) error {
	defer s.acquire()()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.d.transitions = append(s.d.transitions, t)
	return nil
}

func (s *Store) ListStageTransitions(_ context.Context, userID uuid.UUID) ([]domain.StageTransition, error) {
	defer s.acquire()()
	out := make([]domain.StageTransition, 0)
	for _, t := range s.d.transitions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// Conversations and messages
// =============================================================================

func (s *Store) sortedConversations(userID uuid.UUID) []domain.Conversation {
	out := make([]domain.Conversation, 0)
	for _, c := range s.d.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Store) GetConversation(_ context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error) {
	defer s.acquire()()
	c, ok := s.d.conversations[conversationID]
	if !ok || c.UserID != userID {
		return domain.Conversation{}, ports.ErrNotFound
	}
	return c, nil
}

// LockConversation relies on the transaction mutex for exclusion.
func (s *Store) LockConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error) {
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *Store) ListConversations(_ context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	defer s.acquire()()
	return s.sortedConversations(userID), nil
}

func (s *Store) isCandidate(c domain.Conversation, cutoff time.Time) bool {
	if c.LastMessageSide == nil || *c.LastMessageSide != domain.SideUser {
		return false
	}
	if c.LastMessageAt == nil || c.LastMessageAt.After(cutoff) {
		return false
	}
	if !c.AutoFollowups.Enabled() {
		return false
	}
	if c.OpportunityID != nil {
		if o, ok := s.d.opportunities[*c.OpportunityID]; ok && !o.AutoFollowups.Enabled() {
			return false
		}
	}
	return true
}

func (s *Store) ListFollowupCandidates(_ context.Context, userID uuid.UUID, cutoff time.Time) ([]domain.Conversation, error) {
	defer s.acquire()()
	out := make([]domain.Conversation, 0)
	for _, c := range s.sortedConversations(userID) {
		if s.isCandidate(c, cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListUsersWithFollowupCandidates(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	defer s.acquire()()
	seen := map[uuid.UUID]bool{}
	out := make([]uuid.UUID, 0)
	for _, c := range s.d.conversations {
		if seen[c.UserID] || !s.isCandidate(c, cutoff) {
			continue
		}
		seen[c.UserID] = true
		out = append(out, c.UserID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	defer s.acquire()()
	out := make([]domain.Message, 0)
	for _, m := range s.d.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetMessage(_ context.Context, userID, messageID uuid.UUID) (domain.Message, error) {
	defer s.acquire()()
	m, ok := s.d.messages[messageID]
	if !ok {
		return domain.Message{}, ports.ErrNotFound
	}
	if c, ok := s.d.conversations[m.ConversationID]; !ok || c.UserID != userID {
		return domain.Message{}, ports.ErrNotFound
	}
	return m, nil
}

func (s *Store) InsertMessage(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
	defer s.acquire()()
	s.faults.mu.Lock()
	injected := s.faults.insertErrors[msg.ConversationID]
	s.faults.mu.Unlock()
	if injected != nil {
		return domain.Message{}, injected
	}

	if _, ok := s.d.conversations[msg.ConversationID]; !ok {
		return domain.Message{}, ports.ErrNotFound
	}
	m := domain.Message{
		ID:             uuid.New(),
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Body:           msg.Body,
		SentAt:         msg.SentAt,
		Source:         msg.Source,
		Status:         msg.Status,
		CreatedAt:      s.now(),
	}
	s.d.messages[m.ID] = m
	return m, nil
}

func (s *Store) UpdateConversationSummary(_ context.Context, conversationID uuid.UUID, summary domain.ConversationSummary) error {
	defer s.acquire()()
	c, ok := s.d.conversations[conversationID]
	if !ok {
		return ports.ErrNotFound
	}
	at := summary.LastMessageAt
	side := summary.LastMessageSide
	snippet := summary.LastMessageSnippet
	c.LastMessageAt = &at
	c.LastMessageSide = &side
	c.LastMessageSnippet = &snippet
	c.UpdatedAt = s.now()
	s.d.conversations[conversationID] = c
	return nil
}

func (s *Store) SetMessageStatus(_ context.Context, userID, messageID uuid.UUID, status domain.MessageStatus) (domain.Message, error) {
	defer s.acquire()()
	m, ok := s.d.messages[messageID]
	if !ok {
		return domain.Message{}, ports.ErrNotFound
	}
	if c, ok := s.d.conversations[m.ConversationID]; !ok || c.UserID != userID {
		return domain.Message{}, ports.ErrNotFound
	}
	m.Status = status
	s.d.messages[messageID] = m
	return m, nil
}

func (s *Store) SetOutOfSync(_ context.Context, userID, conversationID uuid.UUID, outOfSync bool) error {
	defer s.acquire()()
	c, ok := s.d.conversations[conversationID]
	if !ok || c.UserID != userID {
		return ports.ErrNotFound
	}
	c.IsOutOfSync = outOfSync
	s.d.conversations[conversationID] = c
	return nil
}

// =============================================================================
// External signals
// =============================================================================

func sortSignalsNewestFirst(out []domain.ExternalSignal) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EmailReceivedAt.Equal(out[j].EmailReceivedAt) {
			return out[i].EmailReceivedAt.After(out[j].EmailReceivedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}

func (s *Store) ListSignalsForConversation(_ context.Context, userID, conversationID uuid.UUID) ([]domain.ExternalSignal, error) {
	defer s.acquire()()
	out := make([]domain.ExternalSignal, 0)
	for _, sig := range s.d.signals {
		if sig.UserID == userID && sig.ConversationID != nil && *sig.ConversationID == conversationID {
			out = append(out, sig)
		}
	}
	sortSignalsNewestFirst(out)
	return out, nil
}

func (s *Store) ListMatchedSignals(_ context.Context, userID uuid.UUID) ([]domain.ExternalSignal, error) {
	defer s.acquire()()
	out := make([]domain.ExternalSignal, 0)
	for _, sig := range s.d.signals {
		if sig.UserID == userID && sig.ConversationID != nil {
			out = append(out, sig)
		}
	}
	sortSignalsNewestFirst(out)
	return out, nil
}

func (s *Store) MatchSignal(_ context.Context, userID, signalID, conversationID uuid.UUID) (domain.ExternalSignal, error) {
	defer s.acquire()()
	sig, ok := s.d.signals[signalID]
	if !ok || sig.UserID != userID {
		return domain.ExternalSignal{}, ports.ErrNotFound
	}
	id := conversationID
	sig.ConversationID = &id
	s.d.signals[signalID] = sig
	return sig, nil
}
