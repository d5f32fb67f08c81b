// Package rest implements session.Repository against an upstream HTTP API,
// for deployments where persistence lives behind another service.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/session"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a session.Repository backed by the API at baseURL.
// token, when set, is sent as a bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

var _ session.Repository = (*Client)(nil)

func (c *Client) QuerySessions(ctx context.Context, courseID string) ([]session.Session, error) {
	var sessions []session.Session
	path := fmt.Sprintf("/courses/%s/sessions", url.PathEscape(courseID))
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (session.Session, error) {
	var sess session.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (c *Client) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	var created session.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", s, &created); err != nil {
		return session.Session{}, err
	}
	return created, nil
}

func (c *Client) UpdateSession(ctx context.Context, s session.Session) (session.Session, error) {
	var updated session.Session
	if err := c.do(ctx, http.MethodPut, "/sessions/"+url.PathEscape(s.ID), s, &updated); err != nil {
		return session.Session{}, err
	}
	return updated, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) DuplicateSession(ctx context.Context, id string) (session.Session, error) {
	var dup session.Session
	path := "/sessions/" + url.PathEscape(id) + "/duplicate"
	if err := c.do(ctx, http.MethodPost, path, nil, &dup); err != nil {
		return session.Session{}, err
	}
	return dup, nil
}

func (c *Client) ReorderSessions(ctx context.Context, courseID string, ids []string) error {
	path := fmt.Sprintf("/courses/%s/sessions/reorder", url.PathEscape(courseID))
	body := struct {
		IDs []string `json:"ids"`
	}{ids}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) BulkUpdateSessions(ctx context.Context, ids []string, action session.BulkAction) error {
	body := struct {
		IDs    []string           `json:"ids"`
		Action session.BulkAction `json:"action"`
	}{ids, action}
	return c.do(ctx, http.MethodPost, "/sessions/bulk", body, nil)
}

func (c *Client) MoveSessions(ctx context.Context, ids []string, destCourseID string) error {
	body := struct {
		IDs      []string `json:"ids"`
		CourseID string   `json:"course_id"`
	}{ids, destCourseID}
	return c.do(ctx, http.MethodPost, "/sessions/move", body, nil)
}

func (c *Client) CreateContent(ctx context.Context, cnt session.Content) (session.Content, error) {
	var created session.Content
	path := "/sessions/" + url.PathEscape(cnt.SessionID) + "/contents"
	if err := c.do(ctx, http.MethodPost, path, cnt, &created); err != nil {
		return session.Content{}, err
	}
	return created, nil
}

func (c *Client) UpdateContent(ctx context.Context, cnt session.Content) (session.Content, error) {
	var updated session.Content
	path := fmt.Sprintf("/sessions/%s/contents/%s", url.PathEscape(cnt.SessionID), url.PathEscape(cnt.ID))
	if err := c.do(ctx, http.MethodPut, path, cnt, &updated); err != nil {
		return session.Content{}, err
	}
	return updated, nil
}

func (c *Client) DeleteContent(ctx context.Context, sessionID, contentID string) error {
	path := fmt.Sprintf("/sessions/%s/contents/%s", url.PathEscape(sessionID), url.PathEscape(contentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ReorderContents(ctx context.Context, sessionID string, ids []string) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/contents/reorder"
	body := struct {
		IDs []string `json:"ids"`
	}{ids}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) CreateAttempt(ctx context.Context, a session.Attempt) (session.Attempt, error) {
	var created session.Attempt
	if err := c.do(ctx, http.MethodPost, "/attempts", a, &created); err != nil {
		return session.Attempt{}, err
	}
	return created, nil
}

func (c *Client) GradeAttempt(ctx context.Context, id string, grade float64) (session.Attempt, error) {
	var graded session.Attempt
	path := "/attempts/" + url.PathEscape(id) + "/grade"
	body := struct {
		Grade float64 `json:"grade"`
	}{grade}
	if err := c.do(ctx, http.MethodPut, path, body, &graded); err != nil {
		return session.Attempt{}, err
	}
	return graded, nil
}

func (c *Client) QueryAttempts(ctx context.Context, contentID, studentID string) ([]session.Attempt, error) {
	var attempts []session.Attempt
	path := fmt.Sprintf("/contents/%s/attempts?student_id=%s", url.PathEscape(contentID), url.QueryEscape(studentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// do issues the request and maps the response onto the shared error taxonomy:
// transport failures and 5xx become NetworkError (retriable), 401/403 become
// PermissionError, 409 ConflictError, 400 ValidationError, 404 ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.NewNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFor(resp, method, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

func (c *Client) errorFor(resp *http.Response, method, path string) error {
	data, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := string(data)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return core.NewPermissionError(resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return session.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return core.NewConflictError("entity", path)
	case resp.StatusCode == http.StatusBadRequest:
		return core.NewValidationError(errors.Errorf("%s %s: %s", method, path, msg))
	case resp.StatusCode >= 500:
		return core.NewNetworkError(errors.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg))
	}
	return errors.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, msg)
}
