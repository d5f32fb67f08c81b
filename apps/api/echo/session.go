package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core/session"
)

type sessionApi struct {
	store *session.Store
}

// registerSessionAPI mounts the course session endpoints on the instructor and
// student API groups. The access controller has already vetted the caller's
// portal; the group middleware re-checks the claims.
func registerSessionAPI(app *echo.Echo, jwt echo.MiddlewareFunc, store *session.Store) {
	api := sessionApi{store: store}

	// instructor portal: full CRUD
	ig := app.Group("/api/instructor", jwt, instructorMiddleware())
	ig.GET("/courses/:courseID/sessions", api.list)
	ig.POST("/courses/:courseID/sessions", api.create)
	ig.PUT("/courses/:courseID/sessions/reorder", api.reorder)
	ig.POST("/courses/:courseID/sessions/bulk", api.bulk)
	ig.GET("/sessions/:id", api.retrieve)
	ig.PUT("/sessions/:id", api.update)
	ig.DELETE("/sessions/:id", api.destroy)
	ig.POST("/sessions/:id/duplicate", api.duplicate)
	ig.POST("/sessions/:id/contents", api.createContent)
	ig.PUT("/sessions/:id/contents/reorder", api.reorderContents)
	ig.PUT("/sessions/:id/contents/:contentID", api.updateContent)
	ig.DELETE("/sessions/:id/contents/:contentID", api.destroyContent)
	ig.PUT("/attempts/:id/grade", api.gradeAttempt)

	// student portal: published sessions and attempts
	sg := app.Group("/api/student", jwt)
	sg.GET("/courses/:courseID/sessions", api.listPublished)
	sg.GET("/sessions/:id", api.retrieve)
	sg.POST("/attempts", api.submitAttempt)
	sg.GET("/contents/:contentID/attempts", api.listAttempts)
}

// Handlers

func (api *sessionApi) list(ctx echo.Context) error {
	filter := new(session.Filter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []session.Session{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	sessions, err := api.store.List(ctx.Request().Context(), ctx.Param("courseID"), *filter, ordering.Ordering)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) listPublished(ctx echo.Context) error {
	filter := new(session.Filter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []session.Session{})
	}
	filter.Clean()
	filter.Status = session.StatusPublished // students never see drafts
	ordering := new(Ordering)
	ordering.Bind(ctx)

	sessions, err := api.store.List(ctx.Request().Context(), ctx.Param("courseID"), *filter, ordering.Ordering)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) create(ctx echo.Context) error {
	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	data.CourseID = ctx.Param("courseID")

	sess, err := api.store.CreateSession(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	sess, err := api.store.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) update(ctx echo.Context) error {
	var data session.UpdateSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSession")
	}

	sess, err := api.store.UpdateSession(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) destroy(ctx echo.Context) error {
	if err := api.store.DeleteSession(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) duplicate(ctx echo.Context) error {
	sess, err := api.store.DuplicateSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "duplicating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) reorder(ctx echo.Context) error {
	var data ReorderRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderRequest")
	}

	if err := api.store.ReorderSessions(ctx.Request().Context(), ctx.Param("courseID"), data.IDs); err != nil {
		return errors.Wrap(err, "reordering sessions")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) bulk(ctx echo.Context) error {
	var data BulkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkRequest")
	}

	if data.Action == session.BulkMove {
		if err := api.store.MoveSessions(ctx.Request().Context(), ctx.Param("courseID"), data.IDs, data.CourseID); err != nil {
			return errors.Wrap(err, "moving sessions")
		}
		return ctx.NoContent(http.StatusNoContent)
	}
	if err := api.store.Bulk(ctx.Request().Context(), ctx.Param("courseID"), data.IDs, data.Action); err != nil {
		return errors.Wrap(err, "applying bulk action")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) createContent(ctx echo.Context) error {
	var data session.NewContent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewContent")
	}
	data.SessionID = ctx.Param("id")

	content, err := api.store.CreateContent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating content")
	}
	return ctx.JSON(http.StatusCreated, content)
}

func (api *sessionApi) updateContent(ctx echo.Context) error {
	var data session.UpdateContent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateContent")
	}

	content, err := api.store.UpdateContent(ctx.Request().Context(), ctx.Param("id"), ctx.Param("contentID"), data)
	if err != nil {
		return errors.Wrap(err, "updating content")
	}
	return ctx.JSON(http.StatusOK, content)
}

func (api *sessionApi) destroyContent(ctx echo.Context) error {
	if err := api.store.DeleteContent(ctx.Request().Context(), ctx.Param("id"), ctx.Param("contentID")); err != nil {
		return errors.Wrap(err, "deleting content")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) reorderContents(ctx echo.Context) error {
	var data ReorderRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderRequest")
	}

	if err := api.store.ReorderContents(ctx.Request().Context(), ctx.Param("id"), data.IDs); err != nil {
		return errors.Wrap(err, "reordering contents")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) submitAttempt(ctx echo.Context) error {
	var data session.NewAttempt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAttempt")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	data.StudentID = claims.Subject // submissions are always on own behalf

	attempt, err := api.store.SubmitAttempt(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusCreated, attempt)
}

func (api *sessionApi) gradeAttempt(ctx echo.Context) error {
	var data GradeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeRequest")
	}

	attempt, err := api.store.GradeAttempt(ctx.Request().Context(), ctx.Param("id"), data.Grade)
	if err != nil {
		return errors.Wrap(err, "grading attempt")
	}
	return ctx.JSON(http.StatusOK, attempt)
}

func (api *sessionApi) listAttempts(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	attempts, err := api.store.Attempts(ctx.Request().Context(), ctx.Param("contentID"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing attempts")
	}
	if attempts == nil {
		attempts = []session.Attempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}

type (
	ReorderRequest struct {
		IDs []string `json:"ids"`
	}

	// BulkRequest carries a bulk action; CourseID is the destination and is
	// only consulted for a move.
	BulkRequest struct {
		IDs      []string           `json:"ids"`
		Action   session.BulkAction `json:"action"`
		CourseID string             `json:"course_id"`
	}

	GradeRequest struct {
		Grade float64 `json:"grade"`
	}
)
