package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
)

// BulkAction is a bulk operation applied to a set of sessions.
type BulkAction string

const (
	BulkPublish   BulkAction = "publish"
	BulkUnpublish BulkAction = "unpublish"
	BulkArchive   BulkAction = "archive"
	BulkDelete    BulkAction = "delete"
	BulkMove      BulkAction = "move"
)

type (
	// Repository is the remote persistence collaborator backing the Store.
	Repository interface {
		QuerySessions(ctx context.Context, courseID string) ([]Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		CreateSession(ctx context.Context, s Session) (Session, error)
		UpdateSession(ctx context.Context, s Session) (Session, error)
		DeleteSession(ctx context.Context, id string) error
		DuplicateSession(ctx context.Context, id string) (Session, error)
		ReorderSessions(ctx context.Context, courseID string, ids []string) error
		BulkUpdateSessions(ctx context.Context, ids []string, action BulkAction) error
		MoveSessions(ctx context.Context, ids []string, destCourseID string) error
		CreateContent(ctx context.Context, c Content) (Content, error)
		UpdateContent(ctx context.Context, c Content) (Content, error)
		DeleteContent(ctx context.Context, sessionID, contentID string) error
		ReorderContents(ctx context.Context, sessionID string, ids []string) error
		CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
		GradeAttempt(ctx context.Context, id string, grade float64) (Attempt, error)
		QueryAttempts(ctx context.Context, contentID, studentID string) ([]Attempt, error)
	}

	// ChangeListener receives the new authoritative list after every successful mutation.
	ChangeListener func(courseID string, sessions []Session)

	cacheEntry struct {
		sessions  []Session // canonical per-course list, sorted by Order
		fetchedAt time.Time
	}

	fetchCall struct {
		done     chan struct{}
		sessions []Session
		err      error
	}

	// Store provides typed CRUD over Sessions and their Contents with an
	// optimistic in-memory cache layered over the Repository. Every mutation
	// follows snapshot-before-mutate / apply-optimistically / commit-or-rollback;
	// the cache is never left in an intermediate state.
	Store struct {
		repo     Repository
		conf     core.StoreConfig
		listener ChangeListener

		mu       sync.Mutex
		cache    map[string]*cacheEntry
		inflight map[string]*fetchCall
		tokens   map[string]uint64 // monotonic per cache key; superseded responses are dropped

		entityMu sync.Mutex
		entities map[string]*entityLock
	}

	entityLock struct {
		mu   sync.Mutex
		refs int
	}
)

func NewStore(repo Repository, conf core.StoreConfig) *Store {
	return &Store{
		repo:     repo,
		conf:     conf,
		cache:    make(map[string]*cacheEntry),
		inflight: make(map[string]*fetchCall),
		tokens:   make(map[string]uint64),
		entities: make(map[string]*entityLock),
	}
}

// SetListener registers the change listener; must be called before use.
func (s *Store) SetListener(fn ChangeListener) { s.listener = fn }

// Filter narrows a List result; fields are ANDed, Search matches title or
// description case-insensitively.
type Filter struct {
	Status      string `query:"status"`
	AccessLevel string `query:"access_level"`
	Search      string `query:"search"`
	Tag         string `query:"tag"`
}

func (f *Filter) IsEmpty() bool {
	return f.Status == "" && f.AccessLevel == "" && f.Search == "" && f.Tag == ""
}

func (f *Filter) Clean() {
	f.Search = core.CleanString(f.Search)
}

// List returns the course's sessions, served from cache when fresh. A stale
// (but not yet evicted) entry is returned immediately and refreshed in the
// background; concurrent fetches for the same key are de-duplicated.
func (s *Store) List(ctx context.Context, courseID string, filter Filter, ordering string) ([]Session, error) {
	sessions, err := s.ensure(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sessions = applyFilter(sessions, filter)
	applySort(sessions, ordering)
	return sessions, nil
}

// Get returns a single session, from cache if possible.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	for _, ent := range s.cache {
		for _, sess := range ent.sessions {
			if sess.ID == id {
				cp := copySession(sess)
				s.mu.Unlock()
				return cp, nil
			}
		}
	}
	s.mu.Unlock()

	var sess Session
	err := s.withRetry(ctx, func() error {
		var ferr error
		sess, ferr = s.repo.GetSession(ctx, id)
		return ferr
	})
	return sess, err
}

// CreateSession validates, optimistically appends the new session at the end
// of the course list and reconciles with the authoritative response.
func (s *Store) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	if err := ns.Validate(); err != nil {
		return Session{}, err
	}
	if _, err := s.ensure(ctx, ns.CourseID); err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	sess := Session{
		ID:          newID(),
		CourseID:    ns.CourseID,
		Title:       ns.Title,
		Description: ns.Description,
		Status:      StatusDraft,
		AccessLevel: ns.AccessLevel,
		Contents:    []Content{},
		Objectives:  ns.Objectives,
		Tags:        ns.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created Session
	err := s.mutate(ctx, ns.CourseID,
		func(sessions []Session) ([]Session, error) {
			sess.Order = len(sessions) // max sibling order + 1
			return append(sessions, sess), nil
		},
		func(ctx context.Context) error {
			var cerr error
			created, cerr = s.repo.CreateSession(ctx, sess)
			return cerr
		},
		func(sessions []Session) []Session {
			return replaceSession(sessions, sess.ID, created)
		},
	)
	if err != nil {
		return Session{}, err
	}
	return created, nil
}

// UpdateSession merges the given fields optimistically; the pre-mutation
// snapshot is restored exactly on failure.
func (s *Store) UpdateSession(ctx context.Context, id string, us UpdateSession) (Session, error) {
	if err := us.Validate(); err != nil {
		return Session{}, err
	}
	courseID, err := s.courseOf(ctx, id)
	if err != nil {
		return Session{}, err
	}

	var merged, updated Session
	err = s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, id)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, id)
			}
			if us.Prerequisites != nil && hasPrereqCycle(sessions, id, us.Prerequisites) {
				return nil, core.NewValidationError(nil, core.FieldError{
					Field: "prerequisites", Error: "prerequisites must not form a cycle",
				})
			}
			var aerr error
			if merged, aerr = us.apply(sessions[idx]); aerr != nil {
				return nil, aerr
			}
			sessions[idx] = merged
			return sessions, nil
		},
		func(ctx context.Context) error {
			var cerr error
			updated, cerr = s.repo.UpdateSession(ctx, merged)
			return cerr
		},
		func(sessions []Session) []Session {
			return replaceSession(sessions, id, updated)
		},
	)
	if err != nil {
		return Session{}, err
	}
	return updated, nil
}

// DeleteSession optimistically removes the session (cascading to its owned
// contents) and re-packs sibling orders; on failure everything is reinserted
// at its original position.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	courseID, err := s.courseOf(ctx, id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, id)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, id)
			}
			sessions = append(sessions[:idx], sessions[idx+1:]...)
			packSessionOrders(sessions)
			return sessions, nil
		},
		func(ctx context.Context) error {
			return s.repo.DeleteSession(ctx, id)
		},
		nil,
	)
}

// DuplicateSession deep-copies a session with fresh ids, draft status and
// zeroed stats, placing it at the end of the course list.
func (s *Store) DuplicateSession(ctx context.Context, id string) (Session, error) {
	courseID, err := s.courseOf(ctx, id)
	if err != nil {
		return Session{}, err
	}

	var optimistic, created Session
	err = s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, id)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, id)
			}
			optimistic = sessions[idx].Duplicate()
			optimistic.Order = len(sessions)
			return append(sessions, optimistic), nil
		},
		func(ctx context.Context) error {
			var cerr error
			created, cerr = s.repo.DuplicateSession(ctx, id)
			return cerr
		},
		func(sessions []Session) []Session {
			return replaceSession(sessions, optimistic.ID, created)
		},
	)
	if err != nil {
		return Session{}, err
	}
	return created, nil
}

// ReorderSessions atomically reassigns order = index for every id. The id set
// must exactly match the current sibling set or the call is rejected without
// touching the cache.
func (s *Store) ReorderSessions(ctx context.Context, courseID string, ids []string) error {
	if _, err := s.ensure(ctx, courseID); err != nil {
		return err
	}
	return s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			if err := checkPermutation(ids, sessionIDs(sessions)); err != nil {
				return nil, err
			}
			byID := make(map[string]int, len(sessions))
			for i := range sessions {
				byID[sessions[i].ID] = i
			}
			for ord, id := range ids {
				sessions[byID[id]].Order = ord
			}
			sortByOrder(sessions)
			return sessions, nil
		},
		func(ctx context.Context) error {
			return s.repo.ReorderSessions(ctx, courseID, ids)
		},
		nil,
	)
}

// Bulk applies a bulk action to the listed sessions of a course.
func (s *Store) Bulk(ctx context.Context, courseID string, ids []string, action BulkAction) error {
	if _, err := s.ensure(ctx, courseID); err != nil {
		return err
	}
	return s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			listed := make(map[string]bool, len(ids))
			for _, id := range ids {
				listed[id] = true
			}
			now := time.Now().UTC()
			out := sessions[:0]
			for _, sess := range sessions {
				if listed[sess.ID] {
					switch action {
					case BulkPublish:
						sess.Status = StatusPublished
					case BulkUnpublish:
						sess.Status = StatusDraft
					case BulkArchive:
						sess.Status = StatusArchived
					case BulkDelete:
						continue
					default:
						return nil, core.NewValidationError(nil, core.FieldError{
							Field: "action", Error: "unknown bulk action",
						})
					}
					sess.UpdatedAt = now
				}
				out = append(out, sess)
			}
			packSessionOrders(out)
			return out, nil
		},
		func(ctx context.Context) error {
			return s.repo.BulkUpdateSessions(ctx, ids, action)
		},
		nil,
	)
}

// MoveSessions transfers the listed sessions to another course. The source
// list closes its gaps and the moved sessions are appended at the end of the
// destination, so orders stay contiguous in both; on failure both lists are
// restored exactly.
func (s *Store) MoveSessions(ctx context.Context, courseID string, ids []string, destCourseID string) error {
	if destCourseID == "" || destCourseID == courseID {
		return core.NewValidationError(nil, core.FieldError{
			Field: "course_id", Error: "destination must be a different course",
		})
	}
	if _, err := s.ensure(ctx, courseID); err != nil {
		return err
	}
	if _, err := s.ensure(ctx, destCourseID); err != nil {
		return err
	}

	// lock both course keys in a fixed order so concurrent moves cannot deadlock
	first, second := courseID, destCourseID
	if second < first {
		first, second = second, first
	}
	unlockFirst := s.lockEntity(first)
	defer unlockFirst()
	unlockSecond := s.lockEntity(second)
	defer unlockSecond()

	s.mu.Lock()
	src, err := s.entryFor(ctx, courseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	dst, err := s.entryFor(ctx, destCourseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	srcSnapshot, dstSnapshot := copySessions(src.sessions), copySessions(dst.sessions)

	remaining := copySessions(src.sessions)
	moved := make([]Session, 0, len(ids))
	for _, id := range ids {
		idx := indexOf(remaining, id)
		if idx < 0 {
			s.mu.Unlock()
			return errors.Wrap(ErrNotFound, id)
		}
		moved = append(moved, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	packSessionOrders(remaining)

	now := time.Now().UTC()
	dest := copySessions(dst.sessions)
	for _, sess := range moved {
		sess.CourseID = destCourseID
		sess.Order = len(dest)
		sess.UpdatedAt = now
		dest = append(dest, sess)
	}

	src.sessions, dst.sessions = remaining, dest
	s.tokens[courseID]++ // in-flight list responses must not clobber this mutation
	s.tokens[destCourseID]++
	s.mu.Unlock()

	if err := s.withRetry(ctx, func() error { return s.repo.MoveSessions(ctx, ids, destCourseID) }); err != nil {
		s.mu.Lock()
		src.sessions, dst.sessions = srcSnapshot, dstSnapshot // exact rollback
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	src.fetchedAt, dst.fetchedAt = time.Now(), time.Now()
	srcList, dstList := copySessions(src.sessions), copySessions(dst.sessions)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener(courseID, srcList)
		s.listener(destCourseID, dstList)
	}
	return nil
}

// CreateContent validates (including the tag/payload match) before any
// collaborator call, then optimistically appends at the end of the session.
func (s *Store) CreateContent(ctx context.Context, nc NewContent) (Content, error) {
	if err := nc.Validate(); err != nil {
		return Content{}, err
	}
	courseID, err := s.courseOf(ctx, nc.SessionID)
	if err != nil {
		return Content{}, err
	}

	now := time.Now().UTC()
	content := Content{
		ID:          newID(),
		SessionID:   nc.SessionID,
		Type:        nc.Type,
		Title:       nc.Title,
		Description: nc.Description,
		AccessLevel: nc.AccessLevel,
		Duration:    nc.Duration,
		IsFree:      nc.IsFree,
		Payload:     nc.DecodedPayload(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created Content
	err = s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, nc.SessionID)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, nc.SessionID)
			}
			if len(sessions[idx].Contents) >= s.conf.MaxSessionContents {
				return nil, core.NewValidationError(nil, core.FieldError{
					Field: "contents", Error: "session content limit reached",
				})
			}
			content.Order = len(sessions[idx].Contents)
			sessions[idx].Contents = append(sessions[idx].Contents, content)
			sessions[idx].UpdatedAt = now
			return sessions, nil
		},
		func(ctx context.Context) error {
			var cerr error
			created, cerr = s.repo.CreateContent(ctx, content)
			return cerr
		},
		func(sessions []Session) []Session {
			return replaceContent(sessions, nc.SessionID, content.ID, created)
		},
	)
	if err != nil {
		return Content{}, err
	}
	return created, nil
}

// UpdateContent merges the given fields; the payload, when present, must match
// the content's existing type.
func (s *Store) UpdateContent(ctx context.Context, sessionID, contentID string, uc UpdateContent) (Content, error) {
	if err := uc.Validate(); err != nil {
		return Content{}, err
	}
	courseID, err := s.courseOf(ctx, sessionID)
	if err != nil {
		return Content{}, err
	}

	var merged, updated Content
	err = s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, sessionID)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, sessionID)
			}
			cidx := contentIndexOf(sessions[idx].Contents, contentID)
			if cidx < 0 {
				return nil, errors.Wrap(ErrContentNotFound, contentID)
			}
			var aerr error
			if merged, aerr = uc.apply(sessions[idx].Contents[cidx]); aerr != nil {
				return nil, aerr
			}
			sessions[idx].Contents[cidx] = merged
			return sessions, nil
		},
		func(ctx context.Context) error {
			var cerr error
			updated, cerr = s.repo.UpdateContent(ctx, merged)
			return cerr
		},
		func(sessions []Session) []Session {
			return replaceContent(sessions, sessionID, contentID, updated)
		},
	)
	if err != nil {
		return Content{}, err
	}
	return updated, nil
}

// DeleteContent optimistically removes the content and re-packs sibling orders.
func (s *Store) DeleteContent(ctx context.Context, sessionID, contentID string) error {
	courseID, err := s.courseOf(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, sessionID)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, sessionID)
			}
			contents := sessions[idx].Contents
			cidx := contentIndexOf(contents, contentID)
			if cidx < 0 {
				return nil, errors.Wrap(ErrContentNotFound, contentID)
			}
			contents = append(contents[:cidx], contents[cidx+1:]...)
			packContentOrders(contents)
			sessions[idx].Contents = contents
			return sessions, nil
		},
		func(ctx context.Context) error {
			return s.repo.DeleteContent(ctx, sessionID, contentID)
		},
		nil,
	)
}

// ReorderContents atomically reassigns content order within a session.
func (s *Store) ReorderContents(ctx context.Context, sessionID string, ids []string) error {
	courseID, err := s.courseOf(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, courseID,
		func(sessions []Session) ([]Session, error) {
			idx := indexOf(sessions, sessionID)
			if idx < 0 {
				return nil, errors.Wrap(ErrNotFound, sessionID)
			}
			contents := sessions[idx].Contents
			if err := checkPermutation(ids, contentIDs(contents)); err != nil {
				return nil, err
			}
			byID := make(map[string]int, len(contents))
			for i := range contents {
				byID[contents[i].ID] = i
			}
			for ord, id := range ids {
				contents[byID[id]].Order = ord
			}
			sort.Slice(contents, func(i, j int) bool { return contents[i].Order < contents[j].Order })
			sessions[idx].Contents = contents
			return sessions, nil
		},
		func(ctx context.Context) error {
			return s.repo.ReorderContents(ctx, sessionID, ids)
		},
		nil,
	)
}

// SubmitAttempt records a new append-only attempt; numbering is assigned by
// the collaborator. Attempts are not cached.
func (s *Store) SubmitAttempt(ctx context.Context, na NewAttempt) (Attempt, error) {
	if err := na.Validate(); err != nil {
		return Attempt{}, err
	}
	attempt := Attempt{
		ID:          newID(),
		ContentID:   na.ContentID,
		StudentID:   na.StudentID,
		Answers:     na.Answers,
		Score:       na.Score,
		SubmittedAt: time.Now().UTC(),
	}
	var created Attempt
	err := s.withRetry(ctx, func() error {
		var cerr error
		created, cerr = s.repo.CreateAttempt(ctx, attempt)
		return cerr
	})
	return created, err
}

// GradeAttempt attaches a grade to an existing attempt; the only mutation
// attempts ever receive.
func (s *Store) GradeAttempt(ctx context.Context, id string, grade float64) (Attempt, error) {
	var graded Attempt
	err := s.withRetry(ctx, func() error {
		var gerr error
		graded, gerr = s.repo.GradeAttempt(ctx, id, grade)
		return gerr
	})
	return graded, err
}

// Attempts lists a student's attempts for a content.
func (s *Store) Attempts(ctx context.Context, contentID, studentID string) ([]Attempt, error) {
	var attempts []Attempt
	err := s.withRetry(ctx, func() error {
		var qerr error
		attempts, qerr = s.repo.QueryAttempts(ctx, contentID, studentID)
		return qerr
	})
	return attempts, err
}

// internals

// mutate runs the snapshot / apply-optimistically / commit-or-rollback
// transaction for one cache key. Mutations serialize per course key so the
// pre-mutation snapshot stays correct (same-entity mutations wait for each
// other); mutations on different courses proceed concurrently.
func (s *Store) mutate(
	ctx context.Context,
	courseID string,
	optimistic func([]Session) ([]Session, error),
	commit func(context.Context) error,
	reconcile func([]Session) []Session,
) error {
	unlock := s.lockEntity(courseID)
	defer unlock()

	s.mu.Lock()
	ent, err := s.entryFor(ctx, courseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := copySessions(ent.sessions)

	applied, err := optimistic(copySessions(ent.sessions))
	if err != nil {
		// rejected before any optimistic write; cache untouched
		s.mu.Unlock()
		return err
	}
	ent.sessions = applied
	s.tokens[courseID]++ // in-flight list responses must not clobber this mutation
	s.mu.Unlock()

	if err := s.withRetry(ctx, func() error { return commit(ctx) }); err != nil {
		s.mu.Lock()
		ent.sessions = snapshot // exact rollback
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if reconcile != nil {
		ent.sessions = reconcile(ent.sessions)
	}
	ent.fetchedAt = time.Now()
	authoritative := copySessions(ent.sessions)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener(courseID, authoritative)
	}
	return nil
}

// entryFor returns the cached entry for a course key, re-fetching when it was
// evicted between ensure and lock. s.mu must be held; it is released and
// re-acquired around the fetch.
func (s *Store) entryFor(ctx context.Context, courseID string) (*cacheEntry, error) {
	ent, ok := s.cache[courseID]
	if !ok {
		s.mu.Unlock()
		_, err := s.ensure(ctx, courseID)
		s.mu.Lock()
		if err != nil {
			return nil, err
		}
		ent = s.cache[courseID]
		if ent == nil { // evicted again between ensure and relock
			ent = &cacheEntry{fetchedAt: time.Now()}
			s.cache[courseID] = ent
		}
	}
	return ent, nil
}

// ensure returns a copy of the canonical course list, fetching on miss or
// eviction, and kicking off a background refresh when merely stale.
func (s *Store) ensure(ctx context.Context, courseID string) ([]Session, error) {
	s.mu.Lock()
	if ent, ok := s.cache[courseID]; ok {
		age := time.Since(ent.fetchedAt)
		if age < s.conf.CacheTime {
			cp := copySessions(ent.sessions)
			stale := age > s.conf.StaleTime
			s.mu.Unlock()
			if stale {
				go s.fetch(context.Background(), courseID) // nolint: errcheck
			}
			return cp, nil
		}
		delete(s.cache, courseID) // expired
	}
	s.mu.Unlock()
	return s.fetch(ctx, courseID)
}

// fetch loads the course list from the repository, de-duplicating concurrent
// calls for the same key and dropping superseded responses via the key's
// monotonic token.
func (s *Store) fetch(ctx context.Context, courseID string) ([]Session, error) {
	s.mu.Lock()
	if call, ok := s.inflight[courseID]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return copySessions(call.sessions), call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[courseID] = call
	s.tokens[courseID]++
	token := s.tokens[courseID]
	s.mu.Unlock()

	var sessions []Session
	err := s.withRetry(ctx, func() error {
		var ferr error
		sessions, ferr = s.repo.QuerySessions(ctx, courseID)
		return ferr
	})

	s.mu.Lock()
	delete(s.inflight, courseID)
	if err == nil {
		sortByOrder(sessions)
		if token == s.tokens[courseID] {
			s.cache[courseID] = &cacheEntry{sessions: sessions, fetchedAt: time.Now()}
		}
	}
	s.mu.Unlock()

	call.sessions, call.err = sessions, err
	close(call.done)
	if err != nil {
		return nil, err
	}
	return copySessions(sessions), nil
}

// withRetry retries fn on NetworkError with bounded exponential backoff.
// Validation, conflict and permission errors are surfaced immediately.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := s.conf.RetryDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !core.IsNetworkError(err) || attempt >= s.conf.RetryCount {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// courseOf locates the course owning a session, fetching it if not cached.
func (s *Store) courseOf(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	for courseID, ent := range s.cache {
		for i := range ent.sessions {
			if ent.sessions[i].ID == sessionID {
				s.mu.Unlock()
				return courseID, nil
			}
		}
	}
	s.mu.Unlock()

	var sess Session
	err := s.withRetry(ctx, func() error {
		var gerr error
		sess, gerr = s.repo.GetSession(ctx, sessionID)
		return gerr
	})
	if err != nil {
		return "", err
	}
	if _, err := s.ensure(ctx, sess.CourseID); err != nil {
		return "", err
	}
	return sess.CourseID, nil
}

func (s *Store) lockEntity(id string) (unlock func()) {
	s.entityMu.Lock()
	el, ok := s.entities[id]
	if !ok {
		el = &entityLock{}
		s.entities[id] = el
	}
	el.refs++
	s.entityMu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		s.entityMu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(s.entities, id)
		}
		s.entityMu.Unlock()
	}
}

// helpers

var newIDFunc = func() string { return uuid.New().String() } // mockable

func newID() string { return newIDFunc() }

func indexOf(sessions []Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func contentIndexOf(contents []Content, id string) int {
	for i := range contents {
		if contents[i].ID == id {
			return i
		}
	}
	return -1
}

func sessionIDs(sessions []Session) []string {
	ids := make([]string, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}
	return ids
}

func contentIDs(contents []Content) []string {
	ids := make([]string, len(contents))
	for i := range contents {
		ids[i] = contents[i].ID
	}
	return ids
}

// checkPermutation rejects id sequences that are not an exact permutation of
// the existing sibling set.
func checkPermutation(ids, existing []string) error {
	reject := func() error {
		return core.NewValidationError(nil, core.FieldError{
			Field: "ids", Error: "ids must exactly match the existing sibling set",
		})
	}
	if len(ids) != len(existing) {
		return reject()
	}
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return reject()
		}
		delete(seen, id)
	}
	return nil
}

func replaceSession(sessions []Session, id string, authoritative Session) []Session {
	if idx := indexOf(sessions, id); idx >= 0 {
		sessions[idx] = authoritative
	}
	sortByOrder(sessions)
	return sessions
}

func replaceContent(sessions []Session, sessionID, contentID string, authoritative Content) []Session {
	if idx := indexOf(sessions, sessionID); idx >= 0 {
		if cidx := contentIndexOf(sessions[idx].Contents, contentID); cidx >= 0 {
			sessions[idx].Contents[cidx] = authoritative
		}
	}
	return sessions
}

func packSessionOrders(sessions []Session) {
	sortByOrder(sessions)
	for i := range sessions {
		sessions[i].Order = i
	}
}

func packContentOrders(contents []Content) {
	sort.Slice(contents, func(i, j int) bool { return contents[i].Order < contents[j].Order })
	for i := range contents {
		contents[i].Order = i
	}
}

func sortByOrder(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Order < sessions[j].Order })
}

// copySessions deep-copies the list so a snapshot is unaffected by later
// optimistic writes. Payload internals are shared; they are replaced wholesale,
// never mutated in place.
func copySessions(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i, sess := range sessions {
		out[i] = copySession(sess)
	}
	return out
}

func copySession(sess Session) Session {
	cp := sess
	cp.Contents = append([]Content(nil), sess.Contents...)
	cp.Objectives = append([]string(nil), sess.Objectives...)
	cp.Tags = append([]string(nil), sess.Tags...)
	cp.Prerequisites = append([]string(nil), sess.Prerequisites...)
	return cp
}

// hasPrereqCycle reports whether setting prereqs on id closes a cycle in the
// course's prerequisite graph.
func hasPrereqCycle(sessions []Session, id string, prereqs []string) bool {
	graph := make(map[string][]string, len(sessions))
	for _, sess := range sessions {
		graph[sess.ID] = sess.Prerequisites
	}
	graph[id] = prereqs

	var visit func(cur string, seen map[string]bool) bool
	visit = func(cur string, seen map[string]bool) bool {
		if seen[cur] {
			return cur == id
		}
		seen[cur] = true
		for _, p := range graph[cur] {
			if p == id || visit(p, seen) {
				return true
			}
		}
		return false
	}
	return visit(id, make(map[string]bool, len(sessions)))
}

func applyFilter(sessions []Session, f Filter) []Session {
	if f.IsEmpty() {
		return sessions
	}
	out := sessions[:0]
	for _, sess := range sessions {
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if f.AccessLevel != "" && sess.AccessLevel != f.AccessLevel {
			continue
		}
		if f.Tag != "" && !contains(sess.Tags, f.Tag) {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(sess.Title), needle) &&
				!strings.Contains(strings.ToLower(sess.Description), needle) {
				continue
			}
		}
		out = append(out, sess)
	}
	return out
}

// applySort orders by one of: order (default), title, created_at, updated_at;
// a '-' prefix reverses.
func applySort(sessions []Session, ordering string) {
	desc := strings.HasPrefix(ordering, "-")
	field := strings.TrimPrefix(ordering, "-")

	var less func(i, j int) bool
	switch field {
	case "title":
		less = func(i, j int) bool { return sessions[i].Title < sessions[j].Title }
	case "created_at":
		less = func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) }
	case "updated_at":
		less = func(i, j int) bool { return sessions[i].UpdatedAt.Before(sessions[j].UpdatedAt) }
	default:
		less = func(i, j int) bool { return sessions[i].Order < sessions[j].Order }
	}
	if desc {
		orig := less
		less = func(i, j int) bool { return orig(j, i) }
	}
	sort.SliceStable(sessions, less)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
