package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/session"
)

type sessionRepository struct {
	db *sessionTable
}

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) QuerySessions(_ context.Context, courseID string) ([]session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	sessions := make([]session.Session, 0)
	for _, sess := range repo.db.table {
		if sess.CourseID == courseID {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Order < sessions[j].Order })
	return sessions, nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return *sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if sess.ID == "" {
		sess.ID = core.NewID()
	}
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) UpdateSession(_ context.Context, sess session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.table[sess.ID]
	if !ok {
		return session.Session{}, core.NewConflictError("session", sess.ID)
	}
	sess.Contents = orig.Contents // contents are mutated via their own operations
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// cascades: contents live inside the session record
	if _, ok := repo.db.table[id]; !ok {
		return core.NewConflictError("session", id)
	}
	delete(repo.db.table, id)
	return nil
}

func (repo *sessionRepository) DuplicateSession(_ context.Context, id string) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.table[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	dup := orig.Duplicate()

	var siblings int
	for _, sess := range repo.db.table {
		if sess.CourseID == orig.CourseID {
			siblings++
		}
	}
	dup.Order = siblings

	repo.db.table[dup.ID] = &dup
	return dup, nil
}

func (repo *sessionRepository) ReorderSessions(_ context.Context, courseID string, ids []string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for ord, id := range ids {
		sess, ok := repo.db.table[id]
		if !ok || sess.CourseID != courseID {
			return core.NewConflictError("session", id)
		}
		sess.Order = ord
	}
	return nil
}

func (repo *sessionRepository) BulkUpdateSessions(_ context.Context, ids []string, action session.BulkAction) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		sess, ok := repo.db.table[id]
		if !ok {
			return core.NewConflictError("session", id)
		}
		switch action {
		case session.BulkPublish:
			sess.Status = session.StatusPublished
		case session.BulkUnpublish:
			sess.Status = session.StatusDraft
		case session.BulkArchive:
			sess.Status = session.StatusArchived
		case session.BulkDelete:
			delete(repo.db.table, id)
			continue
		}
		sess.UpdatedAt = now
	}
	return nil
}

func (repo *sessionRepository) MoveSessions(_ context.Context, ids []string, destCourseID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var destCount int
	for _, sess := range repo.db.table {
		if sess.CourseID == destCourseID {
			destCount++
		}
	}

	now := time.Now().UTC()
	sources := make(map[string]bool)
	for i, id := range ids {
		sess, ok := repo.db.table[id]
		if !ok {
			return core.NewConflictError("session", id)
		}
		sources[sess.CourseID] = true
		sess.CourseID = destCourseID
		sess.Order = destCount + i
		sess.UpdatedAt = now
	}

	// close the gaps left in each source course
	for courseID := range sources {
		if courseID == destCourseID {
			continue
		}
		var siblings []*session.Session
		for _, sess := range repo.db.table {
			if sess.CourseID == courseID {
				siblings = append(siblings, sess)
			}
		}
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].Order < siblings[j].Order })
		for ord, sess := range siblings {
			sess.Order = ord
		}
	}
	return nil
}

func (repo *sessionRepository) CreateContent(_ context.Context, content session.Content) (session.Content, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess, ok := repo.db.table[content.SessionID]
	if !ok {
		return session.Content{}, session.ErrNotFound
	}
	if content.ID == "" {
		content.ID = core.NewID()
	}
	sess.Contents = append(sess.Contents, content)
	return content, nil
}

func (repo *sessionRepository) UpdateContent(_ context.Context, content session.Content) (session.Content, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess, ok := repo.db.table[content.SessionID]
	if !ok {
		return session.Content{}, core.NewConflictError("session", content.SessionID)
	}
	for i := range sess.Contents {
		if sess.Contents[i].ID == content.ID {
			sess.Contents[i] = content
			return content, nil
		}
	}
	return session.Content{}, core.NewConflictError("content", content.ID)
}

func (repo *sessionRepository) DeleteContent(_ context.Context, sessionID, contentID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess, ok := repo.db.table[sessionID]
	if !ok {
		return core.NewConflictError("session", sessionID)
	}
	for i := range sess.Contents {
		if sess.Contents[i].ID == contentID {
			sess.Contents = append(sess.Contents[:i], sess.Contents[i+1:]...)
			for j := range sess.Contents {
				sess.Contents[j].Order = j
			}
			return nil
		}
	}
	return core.NewConflictError("content", contentID)
}

func (repo *sessionRepository) ReorderContents(_ context.Context, sessionID string, ids []string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess, ok := repo.db.table[sessionID]
	if !ok {
		return core.NewConflictError("session", sessionID)
	}
	byID := make(map[string]int, len(sess.Contents))
	for i := range sess.Contents {
		byID[sess.Contents[i].ID] = i
	}
	for ord, id := range ids {
		i, ok := byID[id]
		if !ok {
			return core.NewConflictError("content", id)
		}
		sess.Contents[i].Order = ord
	}
	sort.Slice(sess.Contents, func(i, j int) bool { return sess.Contents[i].Order < sess.Contents[j].Order })
	return nil
}

func (repo *sessionRepository) CreateAttempt(_ context.Context, attempt session.Attempt) (session.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if attempt.ID == "" {
		attempt.ID = core.NewID()
	}
	n := 1
	for _, a := range repo.db.attempts {
		if a.ContentID == attempt.ContentID && a.StudentID == attempt.StudentID {
			n++
		}
	}
	attempt.AttemptNumber = n
	repo.db.attempts = append(repo.db.attempts, attempt)
	return attempt, nil
}

func (repo *sessionRepository) GradeAttempt(_ context.Context, id string, grade float64) (session.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for i := range repo.db.attempts {
		if repo.db.attempts[i].ID == id {
			repo.db.attempts[i].Grade = &grade
			return repo.db.attempts[i], nil
		}
	}
	return session.Attempt{}, core.NewConflictError("attempt", id)
}

func (repo *sessionRepository) QueryAttempts(_ context.Context, contentID, studentID string) ([]session.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var out []session.Attempt
	for _, a := range repo.db.attempts {
		if a.ContentID == contentID && a.StudentID == studentID {
			out = append(out, a)
		}
	}
	return out, nil
}
