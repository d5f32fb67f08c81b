package access

import "strings"

// Role of an authenticated user, as carried in a verified token.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// Class is a set of route-access categories; a path may belong to several
// (e.g. a shared authoring tool is both ClassAdmin and ClassInstructor).
type Class uint16

const (
	ClassPublic Class = 1 << iota
	ClassAdmin
	ClassInstructor
	ClassStudent
	ClassAdminAPI
	ClassInstructorAPI
	ClassStudentAPI
	ClassGeneral
	ClassShared
)

func (c Class) Has(other Class) bool { return c&other != 0 }

type (
	table struct {
		class    Class
		patterns []string
	}

	sharedRoute struct {
		pattern string
		roles   map[Role]bool
	}

	// Routes is the static route classification config. Immutable once built.
	Routes struct {
		tables []table
		shared []sharedRoute
		homes  map[Role]string
	}
)

// LoginPath is where unauthenticated requests get redirected to.
const LoginPath = "/auth/login"

// DefaultRoutes returns the app's route classification tables.
func DefaultRoutes() *Routes {
	return &Routes{
		tables: []table{
			{ClassPublic, []string{
				"/auth/login",
				"/auth/register",
				"/auth/forgot-password",
				"/auth/reset-password",
				"/api/auth", // login/logout/refresh; must never redirect-loop
				"/about",
				"/pricing",
				"/courses", // public catalog
			}},
			{ClassAdmin, []string{"/admin", "/dashboard/admin"}},
			{ClassInstructor, []string{"/instructor", "/dashboard/instructor", "/course-builder"}},
			{ClassStudent, []string{"/dashboard/student", "/learn", "/my-courses"}},
			{ClassAdminAPI, []string{"/api/admin"}},
			{ClassInstructorAPI, []string{"/api/instructor"}},
			{ClassStudentAPI, []string{"/api/student"}},
			{ClassGeneral, []string{"/profile", "/settings", "/notifications"}},
			{ClassAdmin, []string{"/course-builder", "/grading"}},
		},
		shared: []sharedRoute{
			{"/course-builder", map[Role]bool{RoleAdmin: true, RoleInstructor: true}},
			{"/grading", map[Role]bool{RoleAdmin: true, RoleInstructor: true}},
		},
		homes: map[Role]string{
			RoleAdmin:      "/dashboard/admin",
			RoleInstructor: "/dashboard/instructor",
			RoleStudent:    "/dashboard/student",
		},
	}
}

// Classify returns the set of classes matching path. The decision procedure,
// not the classifier, resolves precedence between overlapping matches.
func (r *Routes) Classify(path string) Class {
	var classes Class
	for _, t := range r.tables {
		for _, p := range t.patterns {
			if matches(path, p) {
				classes |= t.class
				break
			}
		}
	}
	for _, s := range r.shared {
		if matches(path, s.pattern) {
			classes |= ClassShared
			break
		}
	}
	return classes
}

// SharedAllows reports whether path is an explicitly shared route reachable by role.
func (r *Routes) SharedAllows(path string, role Role) bool {
	for _, s := range r.shared {
		if matches(path, s.pattern) {
			return s.roles[role]
		}
	}
	return false
}

// Home returns the role's home page; role-mismatch redirects land there.
func (r *Routes) Home(role Role) string {
	return r.homes[role]
}

// matches does an exact match or a path-segment prefix match,
// so "/admin" covers "/admin" and "/admin/users" but not "/administrivia".
func matches(path, pattern string) bool {
	return path == pattern || strings.HasPrefix(path, pattern+"/")
}
