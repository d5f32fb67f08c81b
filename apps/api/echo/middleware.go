package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core/access"
)

var contextAccessKey = "accessContext"

// accessControlMiddleware runs every page navigation through the access
// controller. API groups mount their own JWT middleware on top; this one owns
// redirects, credential clearing and the role headers handed to downstream
// handlers.
func accessControlMiddleware(ctrl *access.Controller) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			decision := ctrl.Decide(ctx.Request().URL.Path, extractToken(ctx))

			switch decision.Kind {
			case access.KindRedirect:
				if decision.ClearCredential {
					clearAuthCookie(ctx)
				}
				return ctx.Redirect(http.StatusTemporaryRedirect, decision.Location)

			case access.KindDeny:
				return ctx.JSON(decision.Status, echo.Map{"error": "Access denied"})
			}

			if authCtx := decision.Context; authCtx != nil {
				ctx.Set(contextAccessKey, authCtx)
				ctx.Response().Header().Set("x-user-id", authCtx.UserID)
				ctx.Response().Header().Set("x-user-role", string(authCtx.Role))
			}
			return next(ctx)
		}
	}
}

// extractToken prefers the auth cookie (page navigation) and falls back to a
// bearer Authorization header.
func extractToken(ctx echo.Context) string {
	if cookie, err := ctx.Cookie(authCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func setAuthCookie(ctx echo.Context, token string, expiresAt int64) {
	ctx.SetCookie(&http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Unix(expiresAt, 0),
		HttpOnly: true,
	})
}

func clearAuthCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func getAccessContext(ctx echo.Context) (*access.AuthContext, error) {
	if authCtx, ok := ctx.Get(contextAccessKey).(*access.AuthContext); ok {
		return authCtx, nil
	}
	return nil, errors.Wrap(errUnauthorized, "access context not set")
}

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// instructorMiddleware admits instructors and admins.
func instructorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsInstructor {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
