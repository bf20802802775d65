// Package collab owns collaborative sessions: participant lifecycle, edit
// fan-out, and conflict resolution.
package collab

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gridwell/internal/domain"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// Subscriber receives changes broadcast to one participant. The websocket hub
// implements it; tests implement it with a slice.
type Subscriber interface {
	Deliver(change domain.GridChange)
}

// Journal optionally records collaboration activity durably. Failures are
// logged, never surfaced to participants.
type Journal interface {
	RecordChange(change domain.GridChange) error
	RecordSessionEvent(eventType, sessionID, userID string) error
}

// member is one participant record. Retained after leave for attribution.
type member struct {
	user domain.ActiveUser
	sub  Subscriber
}

type session struct {
	id        string
	createdBy string
	createdAt string
	members   map[string]*member
	order     []string // join order, drives FIFO fan-out
	state     map[domain.CellPosition]domain.GridChange
}

// Engine owns the session map. Each Engine instance is independent state;
// nothing here is global.
type Engine struct {
	Resolver ConflictResolver
	Journal  Journal
	Logger   *log.Logger
	Now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewEngine() *Engine {
	return &Engine{
		Resolver: LastWriteWins{},
		Now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// CreateSession installs an empty active session. It fails if a session with
// that id is already active.
func (e *Engine) CreateSession(id, createdBy string) (domain.CollaborationSession, error) {
	if id == "" {
		return domain.CollaborationSession{}, errors.New("session id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; ok {
		return domain.CollaborationSession{}, fmt.Errorf("session %s: %w", id, ErrSessionExists)
	}
	s := e.installLocked(id, createdBy)
	e.journalEvent("session.created", id, createdBy)
	return e.sessionInfoLocked(s), nil
}

func (e *Engine) installLocked(id, createdBy string) *session {
	s := &session{
		id:        id,
		createdBy: createdBy,
		createdAt: e.now(),
		members:   make(map[string]*member),
		state:     make(map[domain.CellPosition]domain.GridChange),
	}
	e.sessions[id] = s
	return s
}

// JoinSession adds a participant, implicitly creating the session on first
// join so collaboration needs no explicit create step. Rejoining with the
// same id flips the existing record back online without duplicating it. The
// returned list is the join reply: current online users.
func (e *Engine) JoinSession(sessionID, userID string, sub Subscriber) ([]domain.ActiveUser, error) {
	if sessionID == "" || userID == "" {
		return nil, errors.New("session id and user id are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = e.installLocked(sessionID, userID)
		e.journalEvent("session.created", sessionID, userID)
	}
	m, ok := s.members[userID]
	if !ok {
		m = &member{user: domain.ActiveUser{ID: userID}}
		s.members[userID] = m
		s.order = append(s.order, userID)
	}
	m.user.IsOnline = true
	m.user.LastActivity = e.now()
	if sub != nil {
		m.sub = sub
	}
	e.journalEvent("session.joined", sessionID, userID)
	return onlineUsers(s), nil
}

// LeaveSession flips the member offline. The record stays for edit history;
// only future broadcasts stop. Unknown sessions and members are a no-op.
func (e *Engine) LeaveSession(sessionID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return
	}
	m, ok := s.members[userID]
	if !ok {
		return
	}
	m.user.IsOnline = false
	m.user.LastActivity = e.now()
	m.sub = nil
	e.journalEvent("session.left", sessionID, userID)
}

// BroadcastChange fans the change out to every other online participant, in
// join order, and folds it into the session's last-known grid state.
// Broadcasting to a non-existent session is a no-op, not an error: a slow or
// late client must not crash the engine.
func (e *Engine) BroadcastChange(sessionID string, change domain.GridChange) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	change.SessionID = sessionID
	if change.Type == "" {
		change.Type = domain.ChangeCellUpdate
	}
	s.state[change.Position] = change
	if m, ok := s.members[change.UserID]; ok {
		m.user.LastActivity = e.now()
	}
	var targets []Subscriber
	for _, id := range s.order {
		m := s.members[id]
		if id == change.UserID || !m.user.IsOnline || m.sub == nil {
			continue
		}
		targets = append(targets, m.sub)
	}
	e.mu.Unlock()

	e.journalChange(change)
	for _, sub := range targets {
		sub.Deliver(change)
	}
}

// HandleConflict resolves a conflict through the configured strategy. Unlike
// broadcast, operating on a gone session is an error the caller must see.
func (e *Engine) HandleConflict(sessionID string, conflict domain.EditConflict) (domain.ConflictResolution, error) {
	e.mu.Lock()
	_, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return domain.ConflictResolution{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	conflict.SessionID = sessionID
	res, err := e.resolver().Resolve(conflict)
	if err != nil {
		return domain.ConflictResolution{}, fmt.Errorf("resolve conflict %s: %w", conflict.ID, err)
	}
	return res, nil
}

func (e *Engine) resolver() ConflictResolver {
	if e.Resolver != nil {
		return e.Resolver
	}
	return LastWriteWins{}
}

// UpdateCursor records a participant's cursor position.
func (e *Engine) UpdateCursor(sessionID, userID string, pos domain.CellPosition) {
	e.withMember(sessionID, userID, func(m *member) {
		p := pos
		m.user.Cursor = &p
	})
}

// UpdateSelection records a participant's selection.
func (e *Engine) UpdateSelection(sessionID, userID string, sel domain.CellRange) {
	e.withMember(sessionID, userID, func(m *member) {
		s := sel
		m.user.Selection = &s
	})
}

func (e *Engine) withMember(sessionID, userID string, fn func(*member)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return
	}
	m, ok := s.members[userID]
	if !ok {
		return
	}
	fn(m)
	m.user.LastActivity = e.now()
}

// ActiveUsers returns the online participants only; offline records never
// appear here.
func (e *Engine) ActiveUsers(sessionID string) ([]domain.ActiveUser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return onlineUsers(s), nil
}

// Session returns the full session record including offline members.
func (e *Engine) Session(sessionID string) (domain.CollaborationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return domain.CollaborationSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return e.sessionInfoLocked(s), nil
}

// Sessions lists all live sessions, ordered by id.
func (e *Engine) Sessions() []domain.CollaborationSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.CollaborationSession, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.sessionInfoLocked(e.sessions[id]))
	}
	return out
}

// DestroySession removes the session. Destruction is terminal and always
// explicit; sessions are never garbage-collected implicitly.
func (e *Engine) DestroySession(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	delete(e.sessions, sessionID)
	e.journalEvent("session.destroyed", sessionID, "")
	return nil
}

// CellState returns the last-known value per position, derived from replayed
// changes.
func (e *Engine) CellState(sessionID string) (map[domain.CellPosition]domain.GridChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	out := make(map[domain.CellPosition]domain.GridChange, len(s.state))
	for pos, change := range s.state {
		out[pos] = change
	}
	return out, nil
}

func (e *Engine) sessionInfoLocked(s *session) domain.CollaborationSession {
	users := make([]domain.ActiveUser, 0, len(s.order))
	for _, id := range s.order {
		users = append(users, s.members[id].user)
	}
	return domain.CollaborationSession{
		ID:          s.id,
		CreatedBy:   s.createdBy,
		CreatedAt:   s.createdAt,
		IsActive:    true,
		ActiveUsers: users,
	}
}

func onlineUsers(s *session) []domain.ActiveUser {
	users := make([]domain.ActiveUser, 0, len(s.order))
	for _, id := range s.order {
		if m := s.members[id]; m.user.IsOnline {
			users = append(users, m.user)
		}
	}
	return users
}

func (e *Engine) journalEvent(eventType, sessionID, userID string) {
	if e.Journal == nil {
		return
	}
	if err := e.Journal.RecordSessionEvent(eventType, sessionID, userID); err != nil {
		e.logger().Printf("journal %s for session %s: %v", eventType, sessionID, err)
	}
}

func (e *Engine) journalChange(change domain.GridChange) {
	if e.Journal == nil {
		return
	}
	if err := e.Journal.RecordChange(change); err != nil {
		e.logger().Printf("journal change %s: %v", change.ID, err)
	}
}
