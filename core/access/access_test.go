package access

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

type fakeVerifier struct {
	authCtx *AuthContext
	err     error
	panics  bool
}

func (v *fakeVerifier) Verify(raw string) (*AuthContext, error) {
	if v.panics {
		panic("boom")
	}
	return v.authCtx, v.err
}

func verifierFor(role Role) *fakeVerifier {
	return &fakeVerifier{authCtx: &AuthContext{
		UserID:    "usr-1",
		Role:      role,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}}
}

func TestDecide_publicPrecedesTokenLogic(t *testing.T) {
	// a garbage token on a public route must not trigger verification at all
	ctrl := NewController(nil, &fakeVerifier{panics: true})

	paths := []string{"/auth/login", "/api/auth/logout", "/courses", "/courses/go-101", "/pricing"}
	for _, path := range paths {
		d := ctrl.Decide(path, "garbage-token")
		if d.Kind != KindAllow {
			t.Errorf("Decide(%q): kind = %v; want allow", path, d.Kind)
		}
		if d.Context != nil {
			t.Errorf("Decide(%q): public allow must not attach context", path)
		}
	}
}

func TestDecide_unauthenticatedRedirect(t *testing.T) {
	ctrl := NewController(nil, verifierFor(RoleStudent))

	tests := []struct {
		path    string
		wantLoc string
	}{
		{"/dashboard/student", "/auth/login?from=%2Fdashboard%2Fstudent"},
		{"/admin/users", "/auth/login?from=%2Fadmin%2Fusers"},
		{"/", "/auth/login"}, // no `from` param on the root path
	}
	for _, tt := range tests {
		d := ctrl.Decide(tt.path, "")
		if d.Kind != KindRedirect {
			t.Fatalf("Decide(%q, no token): kind = %v; want redirect", tt.path, d.Kind)
		}
		if d.Location != tt.wantLoc {
			t.Errorf("Decide(%q): location = %q; want %q", tt.path, d.Location, tt.wantLoc)
		}
		if d.Reason != ReasonUnauthenticated {
			t.Errorf("Decide(%q): reason = %q; want %q", tt.path, d.Reason, ReasonUnauthenticated)
		}
		if d.ClearCredential {
			t.Errorf("Decide(%q): must not clear a credential that was never presented", tt.path)
		}
	}
}

func TestDecide_invalidTokenFailsClosed(t *testing.T) {
	verifiers := map[string]TokenVerifier{
		"error":   &fakeVerifier{err: errors.New("token expired")},
		"nil ctx": &fakeVerifier{},
		"panic":   &fakeVerifier{panics: true},
	}
	for name, v := range verifiers {
		d := NewController(nil, v).Decide("/dashboard/student", "some-token")
		if d.Kind != KindRedirect {
			t.Fatalf("%s: kind = %v; want redirect", name, d.Kind)
		}
		if d.Reason != ReasonInvalidToken {
			t.Errorf("%s: reason = %q; want %q", name, d.Reason, ReasonInvalidToken)
		}
		if !d.ClearCredential {
			t.Errorf("%s: caller must be instructed to clear the bad credential", name)
		}
	}
}

func TestDecide_roleMismatchRedirectsHome(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		path     string
		wantHome string
	}{
		{"student on admin UI", RoleStudent, "/admin/users", "/dashboard/student"},
		{"student on instructor UI", RoleStudent, "/instructor/courses", "/dashboard/student"},
		{"instructor on admin UI", RoleInstructor, "/admin", "/dashboard/instructor"},
		{"instructor on student UI", RoleInstructor, "/my-courses", "/dashboard/instructor"},
		{"admin on student UI", RoleAdmin, "/dashboard/student", "/dashboard/admin"},
		{"admin on instructor UI", RoleAdmin, "/dashboard/instructor", "/dashboard/admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewController(nil, verifierFor(tt.role)).Decide(tt.path, "valid")
			if d.Kind != KindRedirect {
				t.Fatalf("kind = %v; want redirect", d.Kind)
			}
			if d.Reason != ReasonRoleMismatch {
				t.Errorf("reason = %q; want %q", d.Reason, ReasonRoleMismatch)
			}
			if d.Location != tt.wantHome {
				t.Errorf("location = %q; want %q", d.Location, tt.wantHome)
			}
		})
	}
}

func TestDecide_apiMismatchDeniesNotRedirects(t *testing.T) {
	tests := []struct {
		name string
		role Role
		path string
	}{
		{"student on admin API", RoleStudent, "/api/admin/anything"},
		{"student on instructor API", RoleStudent, "/api/instructor/sessions"},
		{"instructor on admin API", RoleInstructor, "/api/admin/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewController(nil, verifierFor(tt.role)).Decide(tt.path, "valid")
			if d.Kind != KindDeny {
				t.Fatalf("kind = %v; want deny", d.Kind)
			}
			if d.Status != 403 {
				t.Errorf("status = %d; want 403", d.Status)
			}
		})
	}
}

func TestDecide_allowAttachesContext(t *testing.T) {
	tests := []struct {
		role Role
		path string
	}{
		{RoleStudent, "/dashboard/student"},
		{RoleStudent, "/learn/go-101"},
		{RoleInstructor, "/instructor/courses"},
		{RoleInstructor, "/api/instructor/sessions"},
		{RoleAdmin, "/admin/users"},
		{RoleAdmin, "/api/admin/reports"},
		{RoleAdmin, "/api/instructor/sessions"}, // admins supervise all APIs
	}
	for _, tt := range tests {
		d := NewController(nil, verifierFor(tt.role)).Decide(tt.path, "valid")
		if d.Kind != KindAllow {
			t.Fatalf("Decide(%q) as %s: kind = %v; want allow", tt.path, tt.role, d.Kind)
		}
		if d.Context == nil || d.Context.Role != tt.role || d.Context.UserID != "usr-1" {
			t.Errorf("Decide(%q) as %s: context = %+v; want attached {usr-1 %s}", tt.path, tt.role, d.Context, tt.role)
		}
	}
}

func TestDecide_generalAndSharedBypassMismatch(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleInstructor, RoleStudent} {
		for _, path := range []string{"/profile", "/settings/account", "/notifications"} {
			d := NewController(nil, verifierFor(role)).Decide(path, "valid")
			if d.Kind != KindAllow {
				t.Errorf("Decide(%q) as %s: kind = %v; want allow (general route)", path, role, d.Kind)
			}
		}
	}

	// /course-builder is classified both ADMIN and INSTRUCTOR; the shared
	// table, not if-ordering, settles who gets in
	for _, role := range []Role{RoleAdmin, RoleInstructor} {
		d := NewController(nil, verifierFor(role)).Decide("/course-builder", "valid")
		if d.Kind != KindAllow {
			t.Errorf("Decide(/course-builder) as %s: kind = %v; want allow (shared route)", role, d.Kind)
		}
	}
	d := NewController(nil, verifierFor(RoleStudent)).Decide("/course-builder", "valid")
	if d.Kind != KindRedirect || d.Reason != ReasonRoleMismatch {
		t.Errorf("Decide(/course-builder) as student: got %+v; want role-mismatch redirect", d)
	}
}

func TestClassify_prefixBoundaries(t *testing.T) {
	routes := DefaultRoutes()

	if c := routes.Classify("/administrivia"); c != 0 {
		t.Errorf("Classify(/administrivia) = %v; segment prefixes must not match partial words", c)
	}
	if c := routes.Classify("/admin/users/42"); !c.Has(ClassAdmin) {
		t.Errorf("Classify(/admin/users/42) = %v; want ClassAdmin", c)
	}
	if c := routes.Classify("/course-builder"); !(c.Has(ClassAdmin) && c.Has(ClassInstructor) && c.Has(ClassShared)) {
		t.Errorf("Classify(/course-builder) = %v; want admin+instructor+shared", c)
	}
}
