package tests

import (
	"net/http"
	"testing"

	"github.com/mzalendo/darasa/core/session"
	"github.com/mzalendo/darasa/core/user"
)

func createSession(t *testing.T, app http.Handler, token, courseID, title string) session.Session {
	t.Helper()
	body := []byte(`{"title": "` + title + `", "access_level": "free"}`)
	req, rec := newAuthRequest(http.MethodPost, "/api/instructor/courses/"+courseID+"/sessions", token, body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("createSession() code = %v; body %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	decodeBody(t, rec, &sess)
	return sess
}

func createContent(t *testing.T, app http.Handler, token, sessionID string, body []byte) session.Content {
	t.Helper()
	req, rec := newAuthRequest(http.MethodPost, "/api/instructor/sessions/"+sessionID+"/contents", token, body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("createContent() code = %v; body %s", rec.Code, rec.Body.String())
	}
	var content session.Content
	decodeBody(t, rec, &content)
	return content
}

func Test_sessionApi_crud(t *testing.T) {
	app := setup(t)
	instructor := createUser(t, "Teach", "teach10", "teach10@test.cd", "", []string{user.RoleInstructor}, true)
	token := getToken(t, instructor)

	sess := createSession(t, app, token, "crs1", "Intro to Go")

	t.Run("created as draft at the end", func(t *testing.T) {
		if sess.Status != session.StatusDraft || sess.Order != 0 {
			t.Errorf("unexpected session %+v", sess)
		}
	})

	t.Run("list", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/instructor/courses/crs1/sessions", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 200, wantData: marchallList(t, sess)}, rec)
	})

	t.Run("retrieve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/instructor/sessions/"+sess.ID, token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 200, wantData: marchallObj(t, sess)}, rec)
	})

	t.Run("retrieve (unknown)", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/instructor/sessions/missing", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 404, wantData: marchallObj(t, httpErr{Error: "session not found"})}, rec)
	})

	t.Run("update", func(t *testing.T) {
		body := []byte(`{"title": "Intro to Go, revised", "status": "published"}`)
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID, token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var updated session.Session
		decodeBody(t, rec, &updated)
		if updated.Title != "Intro to Go, revised" || updated.Status != session.StatusPublished {
			t.Errorf("unexpected session %+v", updated)
		}
	})

	t.Run("invalid status is rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID, token, []byte(`{"status": "lol"}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("archived is terminal", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID, token, []byte(`{"status": "archived"}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID, token, []byte(`{"title": "Necromancy"}`))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: 400, wantData: marchallObj(t, httpErr{Error: "an archived session can no longer be modified"})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("duplicate resets status and stats", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/sessions/"+sess.ID+"/duplicate", token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var dup session.Session
		decodeBody(t, rec, &dup)
		if dup.ID == sess.ID || dup.Status != session.StatusDraft || dup.EnrollmentCount != 0 {
			t.Errorf("unexpected duplicate %+v", dup)
		}
		if dup.Title != "Intro to Go, revised (copy)" {
			t.Errorf("title = %q", dup.Title)
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/instructor/sessions/"+sess.ID, token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_sessionApi_reorderAndBulk(t *testing.T) {
	app := setup(t)
	instructor := createUser(t, "Teach", "teach11", "teach11@test.cd", "", []string{user.RoleInstructor}, true)
	token := getToken(t, instructor)

	s1 := createSession(t, app, token, "crs2", "One")
	s2 := createSession(t, app, token, "crs2", "Two")
	s3 := createSession(t, app, token, "crs2", "Three")

	t.Run("partial id set is rejected", func(t *testing.T) {
		body := marchallObj(t, map[string][]string{"ids": {s1.ID, s2.ID}})
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/courses/crs2/sessions/reorder", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("reorder", func(t *testing.T) {
		body := marchallObj(t, map[string][]string{"ids": {s3.ID, s1.ID, s2.ID}})
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/courses/crs2/sessions/reorder", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/api/instructor/courses/crs2/sessions", token)
		app.ServeHTTP(rec, req)
		var got []session.Session
		decodeBody(t, rec, &got)
		if len(got) != 3 || got[0].ID != s3.ID || got[1].ID != s1.ID || got[2].ID != s2.ID {
			t.Errorf("unexpected order: %+v", got)
		}
		for i, sess := range got {
			if sess.Order != i {
				t.Errorf("orders not contiguous: %+v", got)
			}
		}
	})

	t.Run("bulk publish", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"ids": []string{s1.ID, s2.ID}, "action": "publish"})
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/courses/crs2/sessions/bulk", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("students only see published", func(t *testing.T) {
		student := createUser(t, "Kid", "kid11", "kid11@test.cd", "", []string{user.RoleStudent}, true)
		req, rec := newAuthRequest(http.MethodGet, "/api/student/courses/crs2/sessions", getToken(t, student))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var got []session.Session
		decodeBody(t, rec, &got)
		if len(got) != 2 {
			t.Fatalf("got %d sessions; want 2", len(got))
		}
		for _, sess := range got {
			if sess.Status != session.StatusPublished {
				t.Errorf("draft leaked to student: %+v", sess)
			}
		}
	})

	t.Run("bulk delete", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"ids": []string{s3.ID}, "action": "delete"})
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/courses/crs2/sessions/bulk", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/api/instructor/courses/crs2/sessions", token)
		app.ServeHTTP(rec, req)
		var got []session.Session
		decodeBody(t, rec, &got)
		if len(got) != 2 {
			t.Errorf("got %d sessions; want 2", len(got))
		}
	})
}

func Test_sessionApi_bulkMove(t *testing.T) {
	app := setup(t)
	instructor := createUser(t, "Teach", "teach14", "teach14@test.cd", "", []string{user.RoleInstructor}, true)
	token := getToken(t, instructor)

	s1 := createSession(t, app, token, "crs5", "One")
	s2 := createSession(t, app, token, "crs5", "Two")
	s3 := createSession(t, app, token, "crs5", "Three")
	other := createSession(t, app, token, "crs6", "Elsewhere")

	t.Run("move to another course", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"ids": []string{s2.ID}, "action": "move", "course_id": "crs6"})
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/courses/crs5/sessions/bulk", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/api/instructor/courses/crs5/sessions", token)
		app.ServeHTTP(rec, req)
		var src []session.Session
		decodeBody(t, rec, &src)
		if len(src) != 2 || src[0].ID != s1.ID || src[1].ID != s3.ID {
			t.Fatalf("unexpected source list: %+v", src)
		}
		if src[0].Order != 0 || src[1].Order != 1 {
			t.Errorf("source orders not contiguous: %+v", src)
		}

		req, rec = newAuthRequest(http.MethodGet, "/api/instructor/courses/crs6/sessions", token)
		app.ServeHTTP(rec, req)
		var dst []session.Session
		decodeBody(t, rec, &dst)
		if len(dst) != 2 || dst[0].ID != other.ID || dst[1].ID != s2.ID {
			t.Fatalf("unexpected destination list: %+v", dst)
		}
		if dst[1].Order != 1 || dst[1].CourseID != "crs6" {
			t.Errorf("moved session not appended to destination: %+v", dst[1])
		}
	})

	t.Run("move to the same course is rejected", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"ids": []string{s1.ID}, "action": "move", "course_id": "crs5"})
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/courses/crs5/sessions/bulk", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_sessionApi_contents(t *testing.T) {
	app := setup(t)
	instructor := createUser(t, "Teach", "teach12", "teach12@test.cd", "", []string{user.RoleInstructor}, true)
	token := getToken(t, instructor)

	sess := createSession(t, app, token, "crs3", "Media")

	video := createContent(t, app, token, sess.ID, []byte(`{
		"type": "video", "title": "Welcome", "access_level": "free", "duration": 12,
		"payload": {"url": "https://cdn.test/welcome.mp4", "provider": "native"}
	}`))

	t.Run("payload variant must match the type", func(t *testing.T) {
		body := []byte(`{
			"type": "quiz", "title": "Checkpoint", "access_level": "free",
			"payload": {"url": "https://cdn.test/welcome.mp4"}
		}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/instructor/sessions/"+sess.ID+"/contents", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	quiz := createContent(t, app, token, sess.ID, []byte(`{
		"type": "quiz", "title": "Checkpoint", "access_level": "free",
		"payload": {
			"questions": [{"prompt": "2+2?", "choices": ["3", "4"], "answer": 1}],
			"passing_score": 50
		}
	}`))

	t.Run("orders are assigned in sequence", func(t *testing.T) {
		if video.Order != 0 || quiz.Order != 1 {
			t.Errorf("orders = %d, %d", video.Order, quiz.Order)
		}
	})

	t.Run("update keeps the type immutable", func(t *testing.T) {
		body := []byte(`{"title": "Welcome!", "payload": {"url": "https://cdn.test/v2.mp4"}}`)
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID+"/contents/"+video.ID, token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var updated session.Content
		decodeBody(t, rec, &updated)
		if updated.Type != session.TypeVideo || updated.Title != "Welcome!" {
			t.Errorf("unexpected content %+v", updated)
		}
	})

	t.Run("wrong payload variant on update", func(t *testing.T) {
		body := []byte(`{"payload": {"questions": []}}`)
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID+"/contents/"+video.ID, token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("reorder contents", func(t *testing.T) {
		body := marchallObj(t, map[string][]string{"ids": {quiz.ID, video.ID}})
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/sessions/"+sess.ID+"/contents/reorder", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("delete re-packs orders", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/instructor/sessions/"+sess.ID+"/contents/"+quiz.ID, token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/api/instructor/sessions/"+sess.ID, token)
		app.ServeHTTP(rec, req)
		var got session.Session
		decodeBody(t, rec, &got)
		if len(got.Contents) != 1 || got.Contents[0].Order != 0 {
			t.Errorf("unexpected contents %+v", got.Contents)
		}
	})
}

func Test_sessionApi_attempts(t *testing.T) {
	app := setup(t)
	instructor := createUser(t, "Teach", "teach13", "teach13@test.cd", "", []string{user.RoleInstructor}, true)
	student := createUser(t, "Kid", "kid13", "kid13@test.cd", "", []string{user.RoleStudent}, true)
	instructorToken := getToken(t, instructor)
	studentToken := getToken(t, student)

	sess := createSession(t, app, instructorToken, "crs4", "Quizzes")
	quiz := createContent(t, app, instructorToken, sess.ID, []byte(`{
		"type": "quiz", "title": "Final", "access_level": "free",
		"payload": {
			"questions": [{"prompt": "2+2?", "choices": ["3", "4"], "answer": 1}],
			"passing_score": 50
		}
	}`))

	var first session.Attempt

	t.Run("submit", func(t *testing.T) {
		body := []byte(`{"content_id": "` + quiz.ID + `", "answers": {"1": 1}}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/student/attempts", studentToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &first)
		if first.AttemptNumber != 1 || first.StudentID != student.ID {
			t.Errorf("unexpected attempt %+v", first)
		}
	})

	t.Run("numbering is per student and content", func(t *testing.T) {
		body := []byte(`{"content_id": "` + quiz.ID + `", "answers": {"1": 0}}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/student/attempts", studentToken, body)
		app.ServeHTTP(rec, req)
		var second session.Attempt
		decodeBody(t, rec, &second)
		if second.AttemptNumber != 2 {
			t.Errorf("attempt_number = %d; want 2", second.AttemptNumber)
		}
	})

	t.Run("grade", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/attempts/"+first.ID+"/grade", instructorToken, []byte(`{"grade": 87.5}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var graded session.Attempt
		decodeBody(t, rec, &graded)
		if graded.Grade == nil || *graded.Grade != 87.5 {
			t.Errorf("unexpected attempt %+v", graded)
		}
	})

	t.Run("student lists own attempts", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/student/contents/"+quiz.ID+"/attempts", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var got []session.Attempt
		decodeBody(t, rec, &got)
		if len(got) != 2 {
			t.Errorf("got %d attempts; want 2", len(got))
		}
	})

	t.Run("student cannot grade", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/instructor/attempts/"+first.ID+"/grade", studentToken, []byte(`{"grade": 100}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 403, wantData: marchallObj(t, errAccessDenied)}, rec)
	})
}
