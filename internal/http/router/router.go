package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/handler"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/security"
)

// Dependencies carries everything the router needs, constructed in the app
// layer. Limiters are injected so tests can swap in deterministic ones.
type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	LeadHandler        *handler.LeadHandler
	SecurityLogHandler *handler.SecurityLogHandler
	IntegrationHandler *handler.IntegrationHandler

	JWTManager *security.JWTManager
	Sessions   middleware.PrincipalResolver
	AuditLog   *security.AuditLog
	APIKey     string

	GeneralLimiter *middleware.RateLimiter
	AuthLimiter    *middleware.RateLimiter

	CORSOrigins []string
	Development bool

	// DB backs the readiness probe. Optional in tests.
	DB *gorm.DB

	EnableOTelHTTP bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   dep.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.DB != nil {
			sqlDB, err := dep.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(r.Context())
			}
			if err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "database is not reachable", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	authenticate := middleware.Authenticate(dep.JWTManager, dep.Sessions, dep.Development)

	r.Route("/api/v1", func(r chi.Router) {
		if dep.GeneralLimiter != nil {
			r.Use(dep.GeneralLimiter.Middleware())
		}

		r.Route("/auth", func(r chi.Router) {
			var authLimiter func(http.Handler) http.Handler
			if dep.AuthLimiter != nil {
				authLimiter = dep.AuthLimiter.Middleware()
			} else {
				authLimiter = func(next http.Handler) http.Handler { return next }
			}
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authenticate).Post("/logout", dep.AuthHandler.Logout)
			r.With(authenticate).Get("/me", dep.AuthHandler.Me)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/", dep.LeadHandler.List)
			r.Post("/", dep.LeadHandler.Create)
			r.Get("/{id}", dep.LeadHandler.Get)
			r.Put("/{id}", dep.LeadHandler.Update)
			r.With(middleware.RequireRole(domain.RoleAdmin, domain.RoleManager)).
				Delete("/{id}", dep.LeadHandler.Delete)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/security-log", dep.SecurityLogHandler.List)
		})
	})

	r.Route("/api/integration", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(dep.APIKey, dep.AuditLog))
		// A bearer token is welcome but never required here; internal
		// relays that send one get leads attributed to their user.
		r.Use(middleware.OptionalAuthenticate(dep.JWTManager, dep.Sessions))
		r.Post("/leads", dep.IntegrationHandler.IntakeLead)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
