// Package access decides, for each inbound path + optional credential,
// whether to allow, redirect or deny, and what context to attach downstream.
// It is stateless per call and performs no side effects beyond the returned
// Decision; credential extraction, cookie clearing and logging belong to the caller.
package access

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// AuthContext is the decoded result of verifying a presented credential.
// It is never constructed from an unverified credential.
type AuthContext struct {
	UserID    string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier verifies a raw credential string.
// A nil AuthContext and an error are both treated as verification failure.
type TokenVerifier interface {
	Verify(raw string) (*AuthContext, error)
}

type Reason string

const (
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonInvalidToken    Reason = "invalid-token"
	ReasonRoleMismatch    Reason = "role-mismatch"
)

type Kind int

const (
	KindAllow Kind = iota
	KindRedirect
	KindDeny
)

// Decision is the outcome of Decide; exactly one variant per call.
type Decision struct {
	Kind Kind

	// KindAllow
	Context *AuthContext

	// KindRedirect
	Location string
	Reason   Reason
	// ClearCredential instructs the caller to drop the presented credential
	// (the controller itself never mutates cookies).
	ClearCredential bool

	// KindDeny
	Status int
}

func allow(authCtx *AuthContext) Decision {
	return Decision{Kind: KindAllow, Context: authCtx}
}

func redirectTo(location string, reason Reason, clearCredential bool) Decision {
	return Decision{Kind: KindRedirect, Location: location, Reason: reason, ClearCredential: clearCredential}
}

func deny() Decision {
	return Decision{Kind: KindDeny, Status: 403}
}

// rolePolicy lists the foreign classes that trigger a mismatch for a role.
// UI mismatches redirect to the role's home page; API mismatches deny with a
// structured 403 instead (API callers cannot follow redirects).
type rolePolicy struct {
	redirect Class
	deny     Class
}

var rolePolicies = map[Role]rolePolicy{
	RoleAdmin:      {redirect: ClassStudent | ClassInstructor},
	RoleInstructor: {redirect: ClassAdmin | ClassStudent, deny: ClassAdminAPI},
	RoleStudent:    {redirect: ClassAdmin | ClassInstructor, deny: ClassAdminAPI | ClassInstructorAPI},
}

type Controller struct {
	routes   *Routes
	verifier TokenVerifier
}

func NewController(routes *Routes, verifier TokenVerifier) *Controller {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Controller{routes: routes, verifier: verifier}
}

// Decide classifies path and resolves the allow/redirect/deny decision for the
// presented credential. rawToken may be empty (no credential presented).
func (c *Controller) Decide(path, rawToken string) Decision {
	classes := c.routes.Classify(path)

	// public routes are allowed before any token logic so that login/logout
	// endpoints never get caught in a redirect loop
	if classes.Has(ClassPublic) {
		return allow(nil)
	}

	if rawToken == "" {
		return redirectTo(loginURL(path), ReasonUnauthenticated, false)
	}

	authCtx, err := c.verify(rawToken)
	if err != nil {
		// fail closed: expired, malformed, bad signature, verifier panic...
		// all end up here; an access decision is never made from a caught failure
		return redirectTo(loginURL(path), ReasonInvalidToken, true)
	}

	policy, ok := rolePolicies[authCtx.Role]
	if !ok {
		return redirectTo(loginURL(path), ReasonInvalidToken, true)
	}

	// GENERAL routes and explicitly shared routes bypass the mismatch check
	if classes.Has(ClassGeneral) || c.routes.SharedAllows(path, authCtx.Role) {
		return allow(authCtx)
	}

	if classes.Has(policy.deny) {
		return deny()
	}
	if classes.Has(policy.redirect) {
		return redirectTo(c.routes.Home(authCtx.Role), ReasonRoleMismatch, false)
	}
	return allow(authCtx)
}

// verify calls the injected verifier, normalizing nil results and panics into errors.
func (c *Controller) verify(raw string) (authCtx *AuthContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			authCtx, err = nil, errors.Errorf("token verifier panicked: %v", r)
		}
	}()
	authCtx, err = c.verifier.Verify(raw)
	if err != nil {
		return nil, errors.Wrap(err, "verifying token")
	}
	if authCtx == nil {
		return nil, errors.New("token verifier returned no context")
	}
	return authCtx, nil
}

// loginURL attaches the original path as a `from` query parameter
// unless it is the root path.
func loginURL(path string) string {
	if path == "/" {
		return LoginPath
	}
	return LoginPath + "?from=" + url.QueryEscape(path)
}
