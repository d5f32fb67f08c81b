package tests

import (
	"net/http"
	"net/url"
	"regexp"
	"testing"

	. "github.com/mzalendo/darasa/apps/api/echo"
	"github.com/mzalendo/darasa/core/user"
	emailsvc "github.com/mzalendo/darasa/services/email"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	usr := createUser(t, "Hero", "hero01", "hero@test.cd", "LePass123", []string{user.RoleStudent}, true)
	createUser(t, "Ghost", "ghost01", "ghost@test.cd", "LePass123", []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name: "empty body", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"username": "this field is required",
				"password": "this field is required",
			}),
		},
		{
			name: "unknown user", body: []byte(`{"username": "lol", "password": "lol"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: []byte(`{"username": "hero01", "password": "nope"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: []byte(`{"username": "ghost01", "password": "LePass123"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", body: []byte(`{"username": "hero01", "password": "LePass123"}`), wantCode: http.StatusOK},
		{name: "login with email", body: []byte(`{"username": "hero@test.cd", "password": "LePass123"}`), wantCode: http.StatusOK},
		{name: "username is case-insensitive", body: []byte(`{"username": "HERO01", "password": "LePass123"}`), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/api/auth/login", tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
				return
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %v; want %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}

			var resp LoginResponse
			decodeBody(t, rec, &resp)
			if resp.Token == "" {
				t.Error("no token returned")
			}
			var gotCookie bool
			for _, c := range rec.Result().Cookies() {
				if c.Name == "auth_token" && c.Value == resp.Token && c.HttpOnly {
					gotCookie = true
				}
			}
			if !gotCookie {
				t.Error("auth cookie not set")
			}
		})
	}

	t.Run("last login is recorded", func(t *testing.T) {
		refreshed, err := usrRepo.GetUserByID(usr.ID)
		if err != nil {
			t.Fatalf("GetUserByID() failed: %v", err)
		}
		if refreshed.LastLogin.IsZero() {
			t.Error("LastLogin not set")
		}
	})
}

func Test_userApi_me(t *testing.T) {
	app := setup(t)
	usr := createUser(t, "Hero", "hero02", "hero02@test.cd", "", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "auth required", path: "/api/auth/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "me", path: "/api/auth/me", token: getToken(t, usr), wantCode: http.StatusOK, wantData: marchallObj(t, usr)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app := setup(t)
	usr := createUser(t, "Hero", "hero03", "hero03@test.cd", "", []string{user.RoleStudent}, true)

	req, rec := newAuthRequest(http.MethodPost, "/api/auth/token-refresh", getToken(t, usr))
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
	}
	var resp LoginResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Error("no token returned")
	}
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)

	admin := createUser(t, "Admin", "admin03", "admin03@test.cd", "", []string{user.RoleAdmin}, true)
	adminToken := getToken(t, admin)

	t.Run("admin creates a student", func(t *testing.T) {
		body := []byte(`{
			"name": "New Kid", "username": "newkid", "email": "kid@test.cd",
			"password": "Tr0ub4dour&3", "password_confirm": "Tr0ub4dour&3",
			"roles": ["student:"]
		}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/admin/users", adminToken, body)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		var created user.User
		decodeBody(t, rec, &created)
		if created.Username != "newkid" || !created.IsActive {
			t.Errorf("unexpected user %+v", created)
		}
	})

	t.Run("cannot grant a role above own", func(t *testing.T) {
		body := []byte(`{
			"name": "Sneaky", "username": "sneaky1", "email": "sneaky@test.cd",
			"password": "Tr0ub4dour&3", "password_confirm": "Tr0ub4dour&3",
			"roles": ["admin:owner"]
		}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/admin/users", adminToken, body)
		app.ServeHTTP(rec, req)

		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("duplicate username is rejected", func(t *testing.T) {
		body := []byte(`{
			"name": "Clone", "username": "admin03", "email": "clone@test.cd",
			"password": "Tr0ub4dour&3", "password_confirm": "Tr0ub4dour&3"
		}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/admin/users", adminToken, body)
		app.ServeHTTP(rec, req)

		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "a user with this username already exists"}),
		}
		checkCodeAndData(t, tt, rec)
	})
}

func Test_userApi_queryAndDetail(t *testing.T) {
	app := setup(t)

	admin := createUser(t, "Admin", "admin04", "admin04@test.cd", "", []string{user.RoleAdmin}, true)
	student := createUser(t, "Hero", "hero04", "hero04@test.cd", "", []string{user.RoleStudent}, true)
	inactive := createUser(t, "Gone", "gone04", "gone04@test.cd", "", []string{user.RoleStudent}, false)

	adminToken := getToken(t, admin)

	bPtr := func(b bool) *bool { return &b }
	path := func(search string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if isActive != nil {
			if *isActive {
				v.Add("is_active", "true")
			} else {
				v.Add("is_active", "false")
			}
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/api/admin/users?" + v.Encode()
	}

	tests := []httpTest{
		{name: "get all", path: "/api/admin/users", token: adminToken, wantCode: 200, wantData: marchallList(t, admin, student, inactive)},
		{name: "search", path: path("hero", nil), token: adminToken, wantCode: 200, wantData: marchallList(t, student)},
		{name: "search (unknown)", path: path("lol", nil), token: adminToken, wantCode: 200, wantData: marchallList(t)},
		{name: "role filter", path: path("", nil, user.RoleAdmin), token: adminToken, wantCode: 200, wantData: marchallList(t, admin)},
		{name: "is_active=false", path: path("", bPtr(false)), token: adminToken, wantCode: 200, wantData: marchallList(t, inactive)},
		{name: "detail", path: "/api/admin/users/" + student.ID, token: adminToken, wantCode: 200, wantData: marchallObj(t, student)},
		{
			name: "detail (unknown)", path: "/api/admin/users/missing", token: adminToken,
			wantCode: 404, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("roles listing", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/admin/users/roles", adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 200, wantData: marchallObj(t, user.Roles)}, rec)
	})
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)

	admin := createUser(t, "Admin", "admin05", "admin05@test.cd", "", []string{user.RoleAdmin}, true)
	victim := createUser(t, "Victim", "victim05", "victim05@test.cd", "", []string{user.RoleStudent}, true)

	adminToken := getToken(t, admin)

	t.Run("cannot delete self", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/admin/users/"+admin.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 403, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("cannot delete self in bulk", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/admin/users?id="+victim.ID+"&id="+admin.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 403, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/admin/users/"+victim.ID, adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}
		if _, err := usrRepo.GetUserByID(victim.ID); err != user.ErrNotFound {
			t.Errorf("user still present; err %v", err)
		}
	})
}

var resetURLRegexp = regexp.MustCompile(`\?uid=([^&\s]+)&token=([^&\s]+)`)

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)
	usr := createUser(t, "Hero", "hero06", "hero06@test.cd", "OldPass123", []string{user.RoleStudent}, true)

	sent := len(emailsvc.SentMessages)

	t.Run("request does not leak account existence", func(t *testing.T) {
		for _, email := range []string{"hero06@test.cd", "whoami@test.cd"} {
			req, rec := newRequest(http.MethodPost, "/api/auth/password-reset", []byte(`{"email": "`+email+`"}`))
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
			}
		}
		if got := len(emailsvc.SentMessages); got != sent+1 {
			t.Fatalf("sent %d reset mails; want 1", got-sent)
		}
	})

	msg := emailsvc.SentMessages[len(emailsvc.SentMessages)-1]
	match := resetURLRegexp.FindStringSubmatch(msg.BodyStr)
	if match == nil {
		t.Fatalf("no reset link in mail body: %q", msg.BodyStr)
	}
	uid, token := match[1], match[2]

	t.Run("confirm with a tampered token", func(t *testing.T) {
		body := []byte(`{"uid": "` + uid + `", "token": "` + token + `x", "password": "NewPass123", "password_confirm": "NewPass123"}`)
		req, rec := newRequest(http.MethodPost, "/api/auth/password-reset-confirm", body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: 400, wantData: marchallObj(t, httpErr{Error: "invalid token"})}, rec)
	})

	t.Run("confirm", func(t *testing.T) {
		body := []byte(`{"uid": "` + uid + `", "token": "` + token + `", "password": "NewPass123", "password_confirm": "NewPass123"}`)
		req, rec := newRequest(http.MethodPost, "/api/auth/password-reset-confirm", body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
		}

		refreshed, err := usrRepo.GetUserByID(usr.ID)
		if err != nil {
			t.Fatalf("GetUserByID() failed: %v", err)
		}
		if err = refreshed.CheckPassword("NewPass123"); err != nil {
			t.Errorf("new password not set: %v", err)
		}
	})
}
