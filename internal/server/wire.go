package server

import (
	"fmt"
	"net/http/cookiejar"
	"time"

	"mealgate/webclient/internal/authz"
	"mealgate/webclient/internal/circuitbreaker"
	"mealgate/webclient/internal/config"
	"mealgate/webclient/internal/csrf"
	"mealgate/webclient/internal/guard"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/rate"
	"mealgate/webclient/internal/service"
	"mealgate/webclient/internal/token"
	"mealgate/webclient/internal/transport"

	"github.com/rs/zerolog"
)

// Version is reported in the User-Agent and on /healthz.
var Version = "0.3.0"

// App is the assembled client: one cookie jar, one CSRF token and one
// platform session for the whole process.
type App struct {
	Config        *config.Config
	CSRFStore     *csrf.Store
	CSRF          *csrf.Guard
	Platform      *platform.Client
	Breaker       *circuitbreaker.Breaker
	Authorizer    *authz.Authorizer
	Guard         *guard.Guard
	Auth          *service.AuthService
	Subscriptions *service.SubscriptionService
	Testimonials  *service.TestimonialService
	MealPlans     *service.MealPlanService
	Admin         *service.AdminService
}

// Build wires every component from cfg. It does not issue the CSRF token;
// callers do that once at startup.
func Build(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	store, err := csrf.NewStore(jar, cfg.Site.URL, csrf.StoreOptions{
		CookieName: cfg.CSRF.CookieName,
		Secure:     cfg.CSRF.Secure,
		SameSite:   csrf.ParseSameSite(cfg.CSRF.SameSite),
	})
	if err != nil {
		return nil, fmt.Errorf("csrf store: %w", err)
	}
	csrfGuard := csrf.NewGuard(store, cfg.CSRF.TokenBytes, cfg.CSRF.HeaderName)

	verifier, err := token.NewVerifier(cfg.Platform.JWTSecret, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}
	if !verifier.Verifies() {
		logger.Warn().Msg("platform.jwt_secret not set; access token signatures are not checked")
	}

	breaker := circuitbreaker.New("platform", circuitbreaker.Config{
		FailureThreshold: cfg.Platform.BreakerFailures,
		SuccessThreshold: 2,
		Cooldown:         cfg.BreakerCooldown(),
	})
	httpClient := transport.NewClient(cfg.PlatformTimeout(), jar, nil,
		transport.RequestID(),
		transport.UserAgent("mealgate/"+Version),
		transport.CSRF(csrfGuard),
		transport.Logging(logger),
		transport.Breaker(breaker),
	)
	pc, err := platform.New(cfg.Platform.URL, cfg.Platform.AnonKey, httpClient, verifier)
	if err != nil {
		return nil, err
	}

	az := authz.NewAuthorizer(pc, authz.PlatformProfiles{Client: pc})
	g := guard.New(csrfGuard, az, guard.Paths{
		Login:     cfg.Routes.Login,
		Register:  cfg.Routes.Register,
		Home:      cfg.Routes.Home,
		Forbidden: cfg.Routes.Forbidden,
	}, cfg.CSRF.QueryParam)

	return &App{
		Config:     cfg,
		CSRFStore:  store,
		CSRF:       csrfGuard,
		Platform:   pc,
		Breaker:    breaker,
		Authorizer: az,
		Guard:      g,
		Auth: service.NewAuthService(pc, az, service.AuthOptions{
			MaxAttempts:   cfg.Auth.SignInAttempts,
			Attempts:      rate.NewWindow(cfg.Auth.SignInWindowSec),
			SiteURL:       cfg.Site.URL,
			OAuthRedirect: cfg.Auth.OAuthRedirect,
		}),
		Subscriptions: service.NewSubscriptionService(pc, az),
		Testimonials:  service.NewTestimonialService(pc, az),
		MealPlans:     service.NewMealPlanService(pc, az),
		Admin:         service.NewAdminService(pc, az),
	}, nil
}
