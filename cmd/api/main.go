package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nullstack-id/identitycore/internal/api"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	"github.com/nullstack-id/identitycore/internal/config"
	"github.com/nullstack-id/identitycore/internal/credential"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/federation"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/mfa"
	"github.com/nullstack-id/identitycore/internal/notify"
	"github.com/nullstack-id/identitycore/internal/ratelimit"
	"github.com/nullstack-id/identitycore/internal/repo/postgres"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/storage"
	"github.com/nullstack-id/identitycore/internal/token"
	"github.com/nullstack-id/identitycore/pkg/logger"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Observability.Environment)
	log.Info("application_startup", "env", cfg.Observability.Environment)

	if cfg.Observability.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.SentryDSN,
			TracesSampleRate: 0.1,
			Environment:      cfg.Observability.Environment,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	pool, err := storage.NewPostgres(cfg.Database.URL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	keyRing, err := buildKeyRing(cfg.Keys)
	if err != nil {
		log.Error("key_ring_init_failed", "error", err)
		os.Exit(1)
	}

	tenantSecrets, err := buildTenantSecretBox()
	if err != nil {
		log.Error("tenant_secret_box_init_failed", "error", err)
		os.Exit(1)
	}

	organizations := postgres.NewOrganizations(pool)
	tenants := postgres.NewTenants(pool)
	users := postgres.NewUsers(pool)
	roles := postgres.NewRoles(pool)
	assignments := postgres.NewRoleAssignments(pool)
	refreshTokens := postgres.NewRefreshTokens(pool)
	revokedTokens := postgres.NewRevokedTokens(pool)
	sessionsRepo := postgres.NewSessions(pool)
	auditEvents := postgres.NewAuditEvents(pool)
	verificationTokens := postgres.NewVerificationTokens(pool)

	revocation := token.NewRevocationIndex(revokedTokens, time.Minute)
	tokens := token.NewProvider(keyRing, "identitycore", "identitycore-api", cfg.Security.AccessTokenTTL, revocation)
	refresh := token.NewRefreshEngine(refreshTokens, sessionsRepo, revocation, cfg.Security.RefreshTokenTTL, cfg.Security.RefreshMaxLifetime)

	auditChain := audit.NewChain(auditEvents)
	auditSink := audit.NewJSONAuditLogger()
	auditor := audit.NewChainService(auditChain, auditSink, log)

	sessionEngine := session.NewEngine(sessionsRepo, refreshTokens, cfg.Security.RefreshTokenTTL, 5*time.Minute, &fingerprintReporter{auditor: auditor})

	roleDAG := authz.NewRoleGraph(5 * time.Minute)

	hasher := appcrypto.NewArgon2Hasher(appcrypto.Argon2Params{
		MemoryKiB:   cfg.Security.PasswordHashParams.MemoryKiB,
		Iterations:  cfg.Security.PasswordHashParams.Iterations,
		Parallelism: cfg.Security.PasswordHashParams.Parallelism,
		SaltLen:     16,
		KeyLen:      32,
	})
	policy := credential.NewPolicy(cfg.Security.PasswordPolicy)
	lockout := credential.NewLockoutState(cfg.Security)

	mfaService := mfa.NewService("identitycore")

	var mailer notify.EmailSender
	if cfg.Observability.Environment == "production" {
		mailer = notify.NewProductionMailer(pool, log)
	} else {
		mailer = &notify.DevMailer{Logger: log}
	}

	appURL := os.Getenv("AUTH__FEATURES__DEFAULT_APP_URL")
	if appURL == "" {
		appURL = "http://localhost:3000"
	}

	identityService := identity.NewService(identity.Deps{
		Users:         users,
		Roles:         roles,
		Assignments:   assignments,
		Verifications: verificationTokens,
		Hasher:        hasher,
		Policy:        policy,
		Lockout:       lockout,
		Tokens:        tokens,
		Revocation:    revocation,
		Refresh:       refresh,
		Sessions:      sessionEngine,
		RoleDAG:       roleDAG,
		MFA:           mfaService,
		Auditor:       auditor,
		Mailer:        mailer,
		AppURL:        appURL,
	})

	limiter := ratelimit.NewLimiter(map[ratelimit.Scope]ratelimit.Limit{
		ratelimit.ScopeGlobal:   ratelimit.DefaultGlobalLimit(),
		ratelimit.ScopeLogin:    ratelimit.DefaultLoginLimit(),
		ratelimit.ScopeRegister: ratelimit.DefaultRegisterLimit(),
	})

	oidcClient := buildOIDCClient(log)
	samlProvider := buildSAMLProvider(log)
	oauthServer := federation.NewAuthorizationServer(
		federation.NewMemoryClientStore(),
		federation.NewMemoryStateStore(),
		hasher,
		tokens,
		refresh,
	)

	var devOrigins []string
	if origin := os.Getenv("AUTH__SERVER__DEV_ORIGIN"); origin != "" {
		devOrigins = append(devOrigins, origin)
	}

	server := api.NewServer(api.Deps{
		Pool: pool,

		TenantSecrets: tenantSecrets,

		Identity: identityService,
		Sessions: sessionEngine,
		Tokens:   tokens,
		RoleDAG:  roleDAG,
		Auditor:  auditor,
		MFA:      mfaService,

		Organizations: organizations,
		Tenants:       tenants,
		Users:         users,
		Roles:         roles,
		Assignments:   assignments,
		AuditEvents:   auditEvents,

		OIDC:        oidcClient,
		SAML:        samlProvider,
		OAuthServer: oauthServer,

		RateLimiter: limiter,
		DevOrigins:  devOrigins,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info("server_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		log.Info("server_shutdown_complete")
	}
}

// buildKeyRing constructs the signing-key provider per cfg.Keys.Source
// and wraps it in a KeyRing so token verification survives a rotation
// through its grace window.
func buildKeyRing(cfg config.KeysConfig) (*appcrypto.KeyRing, error) {
	switch cfg.Source {
	case config.KeySourceFile:
		keyBytes, err := os.ReadFile(cfg.RSAPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read rsa private key: %w", err)
		}
		provider, err := appcrypto.NewRSAKeyProvider("default", keyBytes)
		if err != nil {
			return nil, err
		}
		return appcrypto.NewKeyRing(provider, cfg.RotationGracePeriod), nil
	case config.KeySourceKMS:
		return nil, fmt.Errorf("kms key source requires an aws kms client wired in by a deployment-specific build")
	default:
		return nil, fmt.Errorf("unknown key source %q", cfg.Source)
	}
}

// buildTenantSecretBox loads the AES keys used to seal tenant SMTP/SAML
// secrets from AUTH__MAIL__TENANT_SECRET_KEY_V<n> environment variables.
func buildTenantSecretBox() (*appcrypto.SecretBox, error) {
	keys := map[int]string{}
	for v := 1; v <= 8; v++ {
		if key := os.Getenv(fmt.Sprintf("AUTH__MAIL__TENANT_SECRET_KEY_V%d", v)); key != "" {
			keys[v] = key
		}
	}
	current := 1
	if cur := os.Getenv("AUTH__MAIL__TENANT_SECRET_CURRENT_VERSION"); cur != "" {
		fmt.Sscanf(cur, "%d", &current)
	}
	if len(keys) == 0 {
		keys[1] = strings.Repeat("0", 64)
	}
	return appcrypto.NewSecretBox(keys, current)
}

// buildOIDCClient constructs an OIDC relying-party client only when an
// issuer is configured; many deployments run without one.
func buildOIDCClient(log *slog.Logger) *federation.OIDCClient {
	issuer := os.Getenv("AUTH__FEDERATION__OIDC_ISSUER_URL")
	if issuer == "" {
		return nil
	}
	clientID := os.Getenv("AUTH__FEDERATION__OIDC_CLIENT_ID")
	clientSecret := os.Getenv("AUTH__FEDERATION__OIDC_CLIENT_SECRET")
	redirectURL := os.Getenv("AUTH__FEDERATION__OIDC_REDIRECT_URL")
	client, err := federation.NewOIDCClient(
		context.Background(), issuer, clientID, clientSecret, redirectURL,
		[]string{"openid", "email", "profile"}, federation.NewMemoryStateStore(),
	)
	if err != nil {
		log.Error("oidc_client_init_failed", "error", err)
		return nil
	}
	return client
}

// buildSAMLProvider constructs a SAML service provider only when an IdP
// certificate is configured.
func buildSAMLProvider(log *slog.Logger) *federation.SAMLServiceProvider {
	certPath := os.Getenv("AUTH__FEDERATION__SAML_IDP_CERT_PATH")
	if certPath == "" {
		return nil
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		log.Error("saml_idp_cert_read_failed", "error", err)
		return nil
	}
	entityID := os.Getenv("AUTH__FEDERATION__SAML_ENTITY_ID")
	acsURL := os.Getenv("AUTH__FEDERATION__SAML_ACS_URL")
	sp, err := federation.NewSAMLServiceProvider(entityID, acsURL, certPEM, federation.NewMemoryStateStore())
	if err != nil {
		log.Error("saml_service_provider_init_failed", "error", err)
		return nil
	}
	return sp
}

// fingerprintReporter adapts the audit trail to session.FingerprintMismatchReporter.
type fingerprintReporter struct {
	auditor audit.Service
}

func (r *fingerprintReporter) ReportFingerprintMismatch(ctx context.Context, tenantID, userID, sessionID uuid.UUID) {
	r.auditor.Log(ctx, "session.fingerprint_mismatch", audit.LogParams{
		TenantID:     tenantID,
		ActorID:      userID,
		SessionID:    sessionID,
		ResourceType: "session",
		Outcome:      domain.AuditFailure,
		RiskLevel:    domain.RiskHigh,
	})
}
