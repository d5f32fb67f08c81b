package echoapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/access"
	"github.com/mzalendo/darasa/core/session"
	"github.com/mzalendo/darasa/core/user"
)

type (
	Options struct {
		Addr           string
		DisableReqLogs bool

		UserSvc      user.Service
		SessionStore *session.Store
		Logger       core.Logger
		Routes       *access.Routes // nil for the default tables
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	// every request goes through the access controller first; the API groups
	// below add JWT claims handling on top
	ctrl := access.NewController(s.opts.Routes, jwtVerifier{})
	s.app.Use(accessControlMiddleware(ctrl))

	s.app.GET("/", home)

	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerAuthAPI(s.app.Group("/api/auth"), jwt, s.opts.UserSvc)
	registerUserAPI(s.app.Group("/api/admin"), jwt, s.opts.UserSvc)
	registerSessionAPI(s.app, jwt, s.opts.SessionStore)
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.opts.Addr))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// signalShutdown force-stops the server on unrecoverable errors.
func (s *server) signalShutdown() {
	s.app.Logger.Error("integrity issue: shutting down")
	go func() { _ = s.Stop(context.Background()) }()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	if authCtx, err := getAccessContext(ctx); err == nil {
		return ctx.String(http.StatusOK, fmt.Sprintf("Welcome to Darasa API, %s!", authCtx.Role))
	}
	return ctx.String(http.StatusOK, "Welcome to Darasa API!")
}
