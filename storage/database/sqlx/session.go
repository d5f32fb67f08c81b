package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/session"
)

type sessionRow struct {
	ID              string         `db:"id"`
	CourseID        string         `db:"course_id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Order           int            `db:"order"`
	Status          string         `db:"status"`
	AccessLevel     string         `db:"access_level"`
	Objectives      pq.StringArray `db:"objectives"`
	Tags            pq.StringArray `db:"tags"`
	Prerequisites   pq.StringArray `db:"prerequisites"`
	EnrollmentCount int            `db:"enrollment_count"`
	CompletionRate  float64        `db:"completion_rate"`
	AverageScore    float64        `db:"average_score"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r sessionRow) toSession() session.Session {
	return session.Session{
		ID:              r.ID,
		CourseID:        r.CourseID,
		Title:           r.Title,
		Description:     r.Description,
		Order:           r.Order,
		Status:          r.Status,
		AccessLevel:     r.AccessLevel,
		Objectives:      r.Objectives,
		Tags:            r.Tags,
		Prerequisites:   r.Prerequisites,
		EnrollmentCount: r.EnrollmentCount,
		CompletionRate:  r.CompletionRate,
		AverageScore:    r.AverageScore,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type contentRow struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	Type        string    `db:"type"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Order       int       `db:"order"`
	AccessLevel string    `db:"access_level"`
	Duration    int       `db:"duration"`
	IsFree      bool      `db:"is_free"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r contentRow) toContent() (session.Content, error) {
	payload, err := session.DecodePayload(session.ContentType(r.Type), r.Payload)
	if err != nil {
		return session.Content{}, errors.Wrapf(err, "decoding payload of content %s", r.ID)
	}
	return session.Content{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Type:        session.ContentType(r.Type),
		Title:       r.Title,
		Description: r.Description,
		Order:       r.Order,
		AccessLevel: r.AccessLevel,
		Duration:    r.Duration,
		IsFree:      r.IsFree,
		Payload:     payload,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

const (
	sessionColumns = `id, course_id, title, description, "order", status, access_level, objectives, tags,
		prerequisites, enrollment_count, completion_rate, average_score, created_at, updated_at`
	contentColumns = `id, session_id, type, title, description, "order", access_level, duration, is_free,
		payload, created_at, updated_at`
	attemptColumns = `id, content_id, student_id, attempt_number, answers, score, grade, submitted_at`
)

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) QuerySessions(ctx context.Context, courseID string) ([]session.Session, error) {
	var rows []sessionRow
	query := `SELECT ` + sessionColumns + ` FROM session WHERE course_id = $1 ORDER BY "order"`
	if err := repo.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}

	sessions := make([]session.Session, len(rows))
	for i, row := range rows {
		sess := row.toSession()
		contents, err := repo.queryContents(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Contents = contents
		sessions[i] = sess
	}
	return sessions, nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	query := `SELECT ` + sessionColumns + ` FROM session WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	sess := row.toSession()
	contents, err := repo.queryContents(ctx, sess.ID)
	if err != nil {
		return session.Session{}, err
	}
	sess.Contents = contents
	return sess, nil
}

func (repo *sessionRepository) queryContents(ctx context.Context, sessionID string) ([]session.Content, error) {
	var rows []contentRow
	query := `SELECT ` + contentColumns + ` FROM content WHERE session_id = $1 ORDER BY "order"`
	if err := repo.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying contents")
	}
	contents := make([]session.Content, len(rows))
	for i, row := range rows {
		c, err := row.toContent()
		if err != nil {
			return nil, err
		}
		contents[i] = c
	}
	return contents, nil
}

func (repo *sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	const query = `
		INSERT INTO session (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := repo.db.ExecContext(ctx, query,
		s.ID, s.CourseID, s.Title, s.Description, s.Order, s.Status, s.AccessLevel,
		pq.StringArray(s.Objectives), pq.StringArray(s.Tags), pq.StringArray(s.Prerequisites),
		s.EnrollmentCount, s.CompletionRate, s.AverageScore, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo *sessionRepository) UpdateSession(ctx context.Context, s session.Session) (session.Session, error) {
	const query = `
		UPDATE session
		SET title = $1, description = $2, "order" = $3, status = $4, access_level = $5,
			objectives = $6, tags = $7, prerequisites = $8,
			enrollment_count = $9, completion_rate = $10, average_score = $11, updated_at = $12
		WHERE id = $13`
	res, err := repo.db.ExecContext(ctx, query,
		s.Title, s.Description, s.Order, s.Status, s.AccessLevel,
		pq.StringArray(s.Objectives), pq.StringArray(s.Tags), pq.StringArray(s.Prerequisites),
		s.EnrollmentCount, s.CompletionRate, s.AverageScore, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "updating session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return repo.GetSession(ctx, s.ID)
}

func (repo *sessionRepository) DeleteSession(ctx context.Context, id string) error {
	// contents cascade at the schema level
	res, err := repo.db.ExecContext(ctx, `DELETE FROM session WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (repo *sessionRepository) DuplicateSession(ctx context.Context, id string) (session.Session, error) {
	orig, err := repo.GetSession(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	dup := orig.Duplicate()

	var count int
	if err = repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM session WHERE course_id = $1`, orig.CourseID); err != nil {
		return session.Session{}, errors.Wrap(err, "counting sibling sessions")
	}
	dup.Order = count

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	const insSession = `
		INSERT INTO session (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = tx.ExecContext(ctx, insSession,
		dup.ID, dup.CourseID, dup.Title, dup.Description, dup.Order, dup.Status, dup.AccessLevel,
		pq.StringArray(dup.Objectives), pq.StringArray(dup.Tags), pq.StringArray(dup.Prerequisites),
		dup.EnrollmentCount, dup.CompletionRate, dup.AverageScore, dup.CreatedAt, dup.UpdatedAt,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting duplicated session")
	}
	for _, c := range dup.Contents {
		if err = insertContentTx(ctx, tx, c); err != nil {
			return session.Session{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return session.Session{}, errors.Wrap(err, "committing duplication")
	}
	return dup, nil
}

func (repo *sessionRepository) ReorderSessions(ctx context.Context, courseID string, ids []string) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for order, id := range ids {
		const query = `UPDATE session SET "order" = $1, updated_at = $2 WHERE id = $3 AND course_id = $4`
		res, err := tx.ExecContext(ctx, query, order, now, id, courseID)
		if err != nil {
			return errors.Wrap(err, "reordering sessions")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.ErrNotFound
		}
	}
	return errors.Wrap(tx.Commit(), "committing reorder")
}

func (repo *sessionRepository) BulkUpdateSessions(ctx context.Context, ids []string, action session.BulkAction) error {
	if len(ids) == 0 {
		return nil
	}

	var query string
	switch action {
	case session.BulkPublish:
		query = `UPDATE session SET status = '` + session.StatusPublished + `', updated_at = $2 WHERE id = ANY($1)`
	case session.BulkUnpublish:
		query = `UPDATE session SET status = '` + session.StatusDraft + `', updated_at = $2 WHERE id = ANY($1)`
	case session.BulkArchive:
		query = `UPDATE session SET status = '` + session.StatusArchived + `', updated_at = $2 WHERE id = ANY($1)`
	case session.BulkDelete:
		_, err := repo.db.ExecContext(ctx, `DELETE FROM session WHERE id = ANY($1)`, pq.StringArray(ids))
		return errors.Wrap(err, "bulk-deleting sessions")
	default:
		return core.NewValidationError(nil, core.FieldError{Field: "action", Error: "unknown bulk action"})
	}

	_, err := repo.db.ExecContext(ctx, query, pq.StringArray(ids), time.Now().UTC())
	return errors.Wrap(err, "bulk-updating sessions")
}

func (repo *sessionRepository) MoveSessions(ctx context.Context, ids []string, destCourseID string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var sources []string
	if err = tx.SelectContext(ctx, &sources, `SELECT DISTINCT course_id FROM session WHERE id = ANY($1)`, pq.StringArray(ids)); err != nil {
		return errors.Wrap(err, "collecting source courses")
	}

	var destCount int
	if err = tx.GetContext(ctx, &destCount, `SELECT COUNT(*) FROM session WHERE course_id = $1`, destCourseID); err != nil {
		return errors.Wrap(err, "counting destination sessions")
	}

	now := time.Now().UTC()
	for i, id := range ids {
		const query = `UPDATE session SET course_id = $1, "order" = $2, updated_at = $3 WHERE id = $4`
		res, err := tx.ExecContext(ctx, query, destCourseID, destCount+i, now, id)
		if err != nil {
			return errors.Wrap(err, "moving session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.ErrNotFound
		}
	}

	// close the gaps left in each source course
	const repack = `
		UPDATE session s
		SET "order" = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY "order") - 1 AS rn
			FROM session WHERE course_id = $1
		) ranked
		WHERE s.id = ranked.id`
	for _, courseID := range sources {
		if courseID == destCourseID {
			continue
		}
		if _, err = tx.ExecContext(ctx, repack, courseID); err != nil {
			return errors.Wrap(err, "repacking source orders")
		}
	}
	return errors.Wrap(tx.Commit(), "committing move")
}

func (repo *sessionRepository) CreateContent(ctx context.Context, c session.Content) (session.Content, error) {
	if err := insertContentTx(ctx, repo.db, c); err != nil {
		return session.Content{}, err
	}
	return c, nil
}

// execer lets insertContentTx run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertContentTx(ctx context.Context, ex execer, c session.Content) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}
	const query = `
		INSERT INTO content (` + contentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = ex.ExecContext(ctx, query,
		c.ID, c.SessionID, string(c.Type), c.Title, c.Description, c.Order,
		c.AccessLevel, c.Duration, c.IsFree, payload, c.CreatedAt, c.UpdatedAt,
	)
	return errors.Wrap(err, "inserting content")
}

func (repo *sessionRepository) UpdateContent(ctx context.Context, c session.Content) (session.Content, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return session.Content{}, errors.Wrap(err, "encoding payload")
	}
	const query = `
		UPDATE content
		SET title = $1, description = $2, "order" = $3, access_level = $4, duration = $5,
			is_free = $6, payload = $7, updated_at = $8
		WHERE id = $9 AND session_id = $10`
	res, err := repo.db.ExecContext(ctx, query,
		c.Title, c.Description, c.Order, c.AccessLevel, c.Duration,
		c.IsFree, payload, c.UpdatedAt, c.ID, c.SessionID,
	)
	if err != nil {
		return session.Content{}, errors.Wrap(err, "updating content")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.Content{}, session.ErrContentNotFound
	}
	return c, nil
}

func (repo *sessionRepository) DeleteContent(ctx context.Context, sessionID, contentID string) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM content WHERE id = $1 AND session_id = $2`, contentID, sessionID)
	if err != nil {
		return errors.Wrap(err, "deleting content")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrContentNotFound
	}

	// close the gap so orders stay contiguous
	const repack = `
		UPDATE content c
		SET "order" = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY "order") - 1 AS rn
			FROM content WHERE session_id = $1
		) ranked
		WHERE c.id = ranked.id`
	if _, err = tx.ExecContext(ctx, repack, sessionID); err != nil {
		return errors.Wrap(err, "repacking content orders")
	}
	return errors.Wrap(tx.Commit(), "committing content deletion")
}

func (repo *sessionRepository) ReorderContents(ctx context.Context, sessionID string, ids []string) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for order, id := range ids {
		const query = `UPDATE content SET "order" = $1, updated_at = $2 WHERE id = $3 AND session_id = $4`
		res, err := tx.ExecContext(ctx, query, order, now, id, sessionID)
		if err != nil {
			return errors.Wrap(err, "reordering contents")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.ErrContentNotFound
		}
	}
	return errors.Wrap(tx.Commit(), "committing content reorder")
}

func (repo *sessionRepository) CreateAttempt(ctx context.Context, a session.Attempt) (session.Attempt, error) {
	const query = `
		INSERT INTO attempt (id, content_id, student_id, attempt_number, answers, score, grade, submitted_at)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM attempt WHERE content_id = $2 AND student_id = $3),
			$4, $5, $6, $7)
		RETURNING attempt_number`
	err := repo.db.GetContext(ctx, &a.AttemptNumber, query,
		a.ID, a.ContentID, a.StudentID, []byte(a.Answers), a.Score, a.Grade, a.SubmittedAt)
	if err != nil {
		return session.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return a, nil
}

func (repo *sessionRepository) GradeAttempt(ctx context.Context, id string, grade float64) (session.Attempt, error) {
	var row attemptRow
	const query = `UPDATE attempt SET grade = $1 WHERE id = $2 RETURNING ` + attemptColumns
	if err := repo.db.GetContext(ctx, &row, query, grade, id); err != nil {
		if err == sql.ErrNoRows {
			return session.Attempt{}, session.ErrContentNotFound
		}
		return session.Attempt{}, errors.Wrap(err, "grading attempt")
	}
	return row.toAttempt(), nil
}

func (repo *sessionRepository) QueryAttempts(ctx context.Context, contentID, studentID string) ([]session.Attempt, error) {
	var rows []attemptRow
	const query = `SELECT ` + attemptColumns + ` FROM attempt
		WHERE content_id = $1 AND student_id = $2 ORDER BY attempt_number`
	if err := repo.db.SelectContext(ctx, &rows, query, contentID, studentID); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	attempts := make([]session.Attempt, len(rows))
	for i, row := range rows {
		attempts[i] = row.toAttempt()
	}
	return attempts, nil
}

type attemptRow struct {
	ID            string          `db:"id"`
	ContentID     string          `db:"content_id"`
	StudentID     string          `db:"student_id"`
	AttemptNumber int             `db:"attempt_number"`
	Answers       []byte          `db:"answers"`
	Score         sql.NullFloat64 `db:"score"`
	Grade         sql.NullFloat64 `db:"grade"`
	SubmittedAt   time.Time       `db:"submitted_at"`
}

func (r attemptRow) toAttempt() session.Attempt {
	a := session.Attempt{
		ID:            r.ID,
		ContentID:     r.ContentID,
		StudentID:     r.StudentID,
		AttemptNumber: r.AttemptNumber,
		Answers:       json.RawMessage(r.Answers),
		SubmittedAt:   r.SubmittedAt,
	}
	if r.Score.Valid {
		score := r.Score.Float64
		a.Score = &score
	}
	if r.Grade.Valid {
		grade := r.Grade.Float64
		a.Grade = &grade
	}
	return a
}
