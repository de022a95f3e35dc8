// Package identity orchestrates the register/login/refresh/logout flows
// (C7) over the credential, token, session, and authorization engines.
// It depends on repo interfaces directly, not a concrete storage struct,
// so a unit test can swap in the in-memory fakes without a database.
package identity

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/apperr"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/credential"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/notify"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/token"
)

// MFAVerifier checks a one-time code against a user's enrolled secret.
// Defined here (not imported from internal/mfa) so this package does not
// have to depend on the TOTP implementation directly.
type MFAVerifier interface {
	Verify(secret, code string) bool
}

// Service wires the credential, token, session, and authz engines into
// the register/login/refresh/logout step sequences.
type Service struct {
	users       repo.Users
	roles       repo.Roles
	assignments repo.RoleAssignments
	verifications repo.VerificationTokens

	hasher  appcrypto.PasswordHasher
	policy  *credential.Policy
	lockout *credential.LockoutState

	tokens     *token.Provider
	revocation *token.RevocationIndex
	refresh    *token.RefreshEngine
	sessions   *session.Engine
	roleDAG    *authz.RoleGraph
	mfa        MFAVerifier
	auditor    audit.Service
	mailer     notify.EmailSender
	appURL     string
}

// Deps groups Service's collaborators for NewService.
type Deps struct {
	Users         repo.Users
	Roles         repo.Roles
	Assignments   repo.RoleAssignments
	Verifications repo.VerificationTokens
	Hasher        appcrypto.PasswordHasher
	Policy        *credential.Policy
	Lockout       *credential.LockoutState
	Tokens        *token.Provider
	Revocation    *token.RevocationIndex
	Refresh       *token.RefreshEngine
	Sessions      *session.Engine
	RoleDAG       *authz.RoleGraph
	MFA           MFAVerifier
	Auditor       audit.Service
	Mailer        notify.EmailSender
	AppURL        string
}

// NewService builds a Service from Deps.
func NewService(d Deps) *Service {
	return &Service{
		users: d.Users, roles: d.Roles, assignments: d.Assignments, verifications: d.Verifications,
		hasher: d.Hasher, policy: d.Policy, lockout: d.Lockout,
		tokens: d.Tokens, revocation: d.Revocation, refresh: d.Refresh, sessions: d.Sessions,
		roleDAG: d.RoleDAG, mfa: d.MFA, auditor: d.Auditor, mailer: d.Mailer, appURL: d.AppURL,
	}
}

// RegisterParams is the data needed to register a new user. InviteToken
// is set only when registration is completing a tenant invitation: it
// skips the pending_verification step and assigns the invited role.
type RegisterParams struct {
	TenantID    uuid.UUID
	Email       string
	Phone       string
	Password    string
	InviteToken string
}

// Register validates and creates a new user in pending_verification
// status. Identifier uniqueness is enforced by attempting the lookup
// first: FindByIdentifier returning anything other than repo.ErrNotFound
// means the identifier is already taken within the tenant.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*domain.User, error) {
	if p.TenantID == uuid.Nil {
		return nil, apperr.New(apperr.CodeValidation, "tenant id is required")
	}
	identifier := p.Email
	if identifier == "" {
		identifier = p.Phone
	}
	if identifier == "" {
		return nil, apperr.New(apperr.CodeValidation, "email or phone is required")
	}

	if err := s.policy.Validate(p.Password, func(string) bool { return false }); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByIdentifier(ctx, p.TenantID, identifier); err == nil {
		return nil, apperr.New(apperr.CodeConflict, "identifier already registered")
	} else if err != repo.ErrNotFound {
		return nil, err
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "password hashing failed", err)
	}

	var invite *domain.VerificationToken
	if p.InviteToken != "" {
		invite, err = s.consumeToken(ctx, p.TenantID, domain.TokenInvitation, p.InviteToken)
		if err != nil {
			return nil, err
		}
		if invite.Email != identifier {
			return nil, apperr.New(apperr.CodeValidation, "email does not match invitation")
		}
	}

	now := time.Now()
	u := &domain.User{
		ID:                uuid.New(),
		TenantID:          p.TenantID,
		Email:             p.Email,
		Phone:             p.Phone,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		Status:            domain.UserPendingVerification,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if invite != nil {
		u.Status = domain.UserActive
		u.EmailVerified = true
	}
	if err := s.users.Insert(ctx, u); err != nil {
		return nil, err
	}

	if invite != nil && invite.Role != "" {
		if role, err := s.roles.FindByName(ctx, p.TenantID, invite.Role); err == nil {
			s.assignments.Insert(ctx, &domain.UserRoleAssignment{
				ID: uuid.New(), UserID: u.ID, TenantID: p.TenantID, RoleID: role.ID,
				GrantedBy: u.ID, GrantedAt: now,
			})
			s.roleDAG.Invalidate(p.TenantID)
		}
	}

	s.auditor.Log(ctx, "user.registered", audit.LogParams{
		ActorID: u.ID, TargetID: u.ID, TenantID: p.TenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess,
	})
	return u, nil
}

// LoginParams is the data needed to authenticate a user.
type LoginParams struct {
	TenantID   uuid.UUID
	Identifier string
	Password   string
	IP         net.IP
	UserAgent  string
}

// LoginResult is returned on a successful or MFA-pending login attempt.
type LoginResult struct {
	MFARequired  bool
	PreAuthToken string
	AccessToken  string
	RefreshToken string
	SessionToken string
	User         *domain.User
}

// Login locates the user, enforces status/lockout, verifies the
// password, and either returns a pre-auth token (MFA pending) or a full
// token/session triple.
func (s *Service) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	u, err := s.users.FindByIdentifier(ctx, p.TenantID, p.Identifier)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
		}
		return nil, err
	}

	now := time.Now()
	if !u.Status.CanAuthenticate() {
		return nil, apperr.New(apperr.CodeAccountSuspended, "account cannot authenticate")
	}
	if s.lockout.CheckLocked(u, now) {
		return nil, apperr.New(apperr.CodeAccountLocked, "account is locked")
	}

	if err := s.hasher.Compare(u.PasswordHash, p.Password); err != nil {
		justLocked := s.lockout.OnFailure(u, now)
		_ = s.users.Update(ctx, u)
		outcome := domain.AuditFailure
		s.auditor.Log(ctx, "user.login.failure", audit.LogParams{
			ActorID: u.ID, TargetID: u.ID, TenantID: p.TenantID,
			ResourceType: "user", Outcome: outcome, RiskLevel: domain.RiskMedium,
			IP: p.IP.String(), UserAgent: p.UserAgent,
		})
		if justLocked {
			s.auditor.Log(ctx, "account.locked", audit.LogParams{
				ActorID: u.ID, TargetID: u.ID, TenantID: p.TenantID,
				ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskHigh,
			})
		}
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}

	// Transparent bcrypt -> Argon2id migration on successful verification.
	if appcrypto.IsBcryptHash(u.PasswordHash) {
		if rehashed, err := s.hasher.Hash(p.Password); err == nil {
			u.PasswordHash = rehashed
		}
	}
	s.lockout.OnSuccess(u)
	u.LastLoginAt = &now
	u.LastLoginIP = p.IP.String()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	if u.MFAEnabled {
		preAuth, err := s.tokens.GeneratePreAuthToken(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{MFARequired: true, PreAuthToken: preAuth, User: u}, nil
	}

	return s.issueSession(ctx, u, p.IP, p.UserAgent)
}

// VerifyMFA completes a login that returned MFARequired, given the
// pre-auth token issued by Login and the user's one-time code.
func (s *Service) VerifyMFA(ctx context.Context, tenantID uuid.UUID, preAuthToken, code string, ip net.IP, userAgent string) (*LoginResult, error) {
	claims, err := s.tokens.ValidateToken(ctx, preAuthToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTokenInvalid, "invalid pre-auth token", err)
	}
	if claims.Scope != token.ScopePreAuth {
		return nil, apperr.New(apperr.CodeTokenInvalid, "token is not a pre-auth token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTokenInvalid, "malformed subject claim", err)
	}

	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
		}
		return nil, err
	}

	if s.mfa == nil || !s.mfa.Verify(u.MFASecret, code) {
		s.auditor.Log(ctx, "user.mfa.failure", audit.LogParams{
			ActorID: u.ID, TargetID: u.ID, TenantID: tenantID,
			ResourceType: "user", Outcome: domain.AuditFailure, RiskLevel: domain.RiskMedium,
		})
		return nil, apperr.New(apperr.CodeMFAInvalid, "invalid MFA code")
	}

	return s.issueSession(ctx, u, ip, userAgent)
}

// LoginFederated issues a session for a user already authenticated by an
// external identity provider (OIDC, SAML, or an OAuth2.1 client), skipping
// password and MFA checks since the federation adapter already vouched
// for the subject.
func (s *Service) LoginFederated(ctx context.Context, u *domain.User, ip net.IP, userAgent string) (*LoginResult, error) {
	if !u.Status.CanAuthenticate() {
		return nil, apperr.New(apperr.CodeAccountSuspended, "account is not active")
	}
	return s.issueSession(ctx, u, ip, userAgent)
}

// issueSession mints the access/refresh token pair and the session row
// for an authenticated user, the shared tail of Login and VerifyMFA.
func (s *Service) issueSession(ctx context.Context, u *domain.User, ip net.IP, userAgent string) (*LoginResult, error) {
	roleNames, permissions, err := s.effectiveGrants(ctx, u)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := s.tokens.GenerateAccessToken(ctx, u.ID, u.TenantID, roleNames, permissions)
	if err != nil {
		return nil, err
	}

	ipStr := ip.String()
	fingerprint := session.Fingerprint(userAgent, ipStr)
	refreshSecret, _, err := s.refresh.IssueFamily(ctx, u.ID, u.TenantID, fingerprint, userAgent, ipStr)
	if err != nil {
		return nil, err
	}
	sessionToken, err := s.sessions.Create(ctx, u.ID, u.TenantID, userAgent, ipStr)
	if err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, "user.login", audit.LogParams{
		ActorID: u.ID, TargetID: u.ID, TenantID: u.TenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess,
		IP: ipStr, UserAgent: userAgent,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshSecret,
		SessionToken: sessionToken,
		User:         u,
	}, nil
}

// effectiveGrants flattens a user's active role assignments into the
// role-name and permission-code claims minted into their access token.
func (s *Service) effectiveGrants(ctx context.Context, u *domain.User) (roleNames, permissions []string, err error) {
	assignments, err := s.assignments.ListByUser(ctx, u.TenantID, u.ID)
	if err != nil {
		return nil, nil, err
	}
	allRoles, err := s.roles.ListByTenant(ctx, u.TenantID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	var assignedIDs []uuid.UUID
	for _, a := range assignments {
		if a.Active(now) {
			assignedIDs = append(assignedIDs, a.RoleID)
		}
	}

	byID := make(map[uuid.UUID]*domain.Role, len(allRoles))
	for _, r := range allRoles {
		byID[r.ID] = r
	}

	seen := make(map[uuid.UUID]struct{})
	for _, id := range assignedIDs {
		for _, reachableID := range s.roleDAG.Reachable(u.TenantID, id, allRoles) {
			if _, ok := seen[reachableID]; ok {
				continue
			}
			seen[reachableID] = struct{}{}
			if r, ok := byID[reachableID]; ok {
				roleNames = append(roleNames, r.Name)
			}
		}
	}
	permissions = s.roleDAG.EffectivePermissions(u.TenantID, assignedIDs, allRoles)
	return roleNames, permissions, nil
}

// Refresh delegates to the refresh-token family rotation protocol and
// mints a fresh access token reflecting the user's current grants.
func (s *Service) Refresh(ctx context.Context, tenantID uuid.UUID, presented, userAgent string, ip net.IP) (accessToken, newRefreshToken string, err error) {
	ipStr := ip.String()
	fingerprint := session.Fingerprint(userAgent, ipStr)
	newSecret, userID, err := s.refresh.Rotate(ctx, tenantID, presented, fingerprint, userAgent, ipStr)
	if err != nil {
		return "", "", err
	}

	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		return "", "", err
	}
	roleNames, permissions, err := s.effectiveGrants(ctx, u)
	if err != nil {
		return "", "", err
	}
	accessToken, _, err = s.tokens.GenerateAccessToken(ctx, u.ID, u.TenantID, roleNames, permissions)
	if err != nil {
		return "", "", err
	}
	return accessToken, newSecret, nil
}

// Logout revokes the caller's access-token jti (for its remaining TTL),
// its refresh-token family, and its session row.
func (s *Service) Logout(ctx context.Context, tenantID uuid.UUID, accessClaims *token.Claims, refreshSecret, sessionToken string) error {
	if accessClaims != nil {
		userID, err := accessClaims.UserID()
		if err == nil {
			if accessClaims.ExpiresAt != nil {
				expiresAt := accessClaims.ExpiresAt.Time
				if time.Now().Before(expiresAt) {
					if err := s.revocation.Revoke(ctx, tenantID, userID, accessClaims.ID, "logout", expiresAt); err != nil {
						return err
					}
				}
			}
			s.auditor.Log(ctx, "user.logout", audit.LogParams{
				ActorID: userID, TargetID: userID, TenantID: tenantID,
				ResourceType: "user", Outcome: domain.AuditSuccess,
			})
		}
	}
	if refreshSecret != "" {
		if err := s.refresh.Logout(ctx, tenantID, refreshSecret); err != nil {
			return err
		}
	}
	if sessionToken != "" {
		if err := s.sessions.RevokeByToken(ctx, tenantID, sessionToken); err != nil {
			return err
		}
	}
	return nil
}

// ChangePassword verifies the caller's current password, enforces the
// credential policy against the replacement, and rehashes at current
// Argon2id parameters regardless of what hash algorithm produced the
// old one.
func (s *Service) ChangePassword(ctx context.Context, tenantID, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(u.PasswordHash, oldPassword); err != nil {
		return apperr.New(apperr.CodeInvalidCredentials, "current password is incorrect")
	}
	if err := s.policy.Validate(newPassword, func(candidate string) bool {
		return s.hasher.Compare(u.PasswordHash, candidate) == nil
	}); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "password hashing failed", err)
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = time.Now()
	u.UpdatedAt = u.PasswordChangedAt
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.auditor.Log(ctx, "user.password_changed", audit.LogParams{
		ActorID: userID, TargetID: userID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})
	return nil
}

// LogoutAll revokes every session and refresh family for a user: a
// "sign out everywhere". Access tokens already issued are not revoked by
// jti and stay valid until they expire.
func (s *Service) LogoutAll(ctx context.Context, tenantID, userID uuid.UUID) error {
	if err := s.refresh.LogoutAll(ctx, tenantID, userID); err != nil {
		return err
	}
	s.auditor.Log(ctx, "user.logout_all", audit.LogParams{
		ActorID: userID, TargetID: userID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess,
	})
	return nil
}

func (s *Service) appURLFor(_ uuid.UUID) string {
	if s.appURL != "" {
		return s.appURL
	}
	return "https://app.identitycore.local"
}

// consumeToken looks up a single-use token by its raw (caller-presented)
// value, validates it hasn't expired or already been consumed, and marks
// it consumed. It never returns a token the caller can use twice.
func (s *Service) consumeToken(ctx context.Context, tenantID uuid.UUID, kind domain.VerificationTokenKind, raw string) (*domain.VerificationToken, error) {
	t, err := s.verifications.FindByHash(ctx, tenantID, kind, appcrypto.HashOpaqueToken(raw))
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, apperr.New(apperr.CodeTokenInvalid, "invalid or expired token")
		}
		return nil, err
	}
	if !t.Valid(time.Now()) {
		return nil, apperr.New(apperr.CodeTokenExpired, "invalid or expired token")
	}
	if err := s.verifications.Consume(ctx, tenantID, t.ID, time.Now()); err != nil {
		return nil, err
	}
	return t, nil
}

// RequestPasswordReset issues a password-reset token and emails it, if
// the identifier resolves to a user. It always returns nil so the caller
// cannot use response timing/shape to enumerate registered accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, tenantID uuid.UUID, email string) error {
	u, err := s.users.FindByIdentifier(ctx, tenantID, email)
	if err != nil {
		return nil
	}

	raw, err := appcrypto.NewOpaqueToken()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "token generation failed", err)
	}
	now := time.Now()
	t := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, UserID: &u.ID, Email: email,
		Kind: domain.TokenPasswordReset, TokenHash: appcrypto.HashOpaqueToken(raw),
		ExpiresAt: now.Add(15 * time.Minute), CreatedAt: now,
	}
	if err := s.verifications.Insert(ctx, t); err != nil {
		return err
	}
	return s.mailer.SendPasswordReset(ctx, email, raw, s.appURLFor(tenantID))
}

// ResetPassword completes a password reset: the presented raw token must
// resolve to a live, unconsumed password_reset token for the tenant.
func (s *Service) ResetPassword(ctx context.Context, tenantID uuid.UUID, rawToken, newPassword string) error {
	t, err := s.consumeToken(ctx, tenantID, domain.TokenPasswordReset, rawToken)
	if err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, tenantID, *t.UserID)
	if err != nil {
		return err
	}
	if err := s.policy.Validate(newPassword, func(candidate string) bool {
		return s.hasher.Compare(u.PasswordHash, candidate) == nil
	}); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "password hashing failed", err)
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = time.Now()
	u.UpdatedAt = u.PasswordChangedAt
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	if err := s.refresh.LogoutAll(ctx, tenantID, u.ID); err != nil {
		return err
	}
	s.auditor.Log(ctx, "user.password_reset", audit.LogParams{
		ActorID: u.ID, TargetID: u.ID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})
	return nil
}

// RequestEmailVerification issues and emails an email-verification token
// for an already-registered, not-yet-verified address.
func (s *Service) RequestEmailVerification(ctx context.Context, tenantID uuid.UUID, email string) error {
	u, err := s.users.FindByIdentifier(ctx, tenantID, email)
	if err != nil {
		return nil
	}
	if u.EmailVerified {
		return nil
	}

	raw, err := appcrypto.NewOpaqueToken()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "token generation failed", err)
	}
	now := time.Now()
	t := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, UserID: &u.ID, Email: email,
		Kind: domain.TokenEmailVerify, TokenHash: appcrypto.HashOpaqueToken(raw),
		ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}
	if err := s.verifications.Insert(ctx, t); err != nil {
		return err
	}
	return s.mailer.SendVerification(ctx, email, raw, s.appURLFor(tenantID))
}

// VerifyEmail completes email verification and, if this was the user's
// only pending gate, activates the account.
func (s *Service) VerifyEmail(ctx context.Context, tenantID uuid.UUID, rawToken string) error {
	t, err := s.consumeToken(ctx, tenantID, domain.TokenEmailVerify, rawToken)
	if err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, tenantID, *t.UserID)
	if err != nil {
		return err
	}
	u.EmailVerified = true
	if u.Status == domain.UserPendingVerification {
		u.Status = domain.UserActive
	}
	u.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.auditor.Log(ctx, "user.email_verified", audit.LogParams{
		ActorID: u.ID, TargetID: u.ID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess,
	})
	return nil
}

// RequestEmailChange verifies the caller's password and issues a
// confirmation token bound to the new address; the user's email does
// not change until ConfirmEmailChange consumes that token.
func (s *Service) RequestEmailChange(ctx context.Context, tenantID, userID uuid.UUID, newEmail, password string) (string, error) {
	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		return "", apperr.New(apperr.CodeInvalidCredentials, "password is incorrect")
	}
	if _, err := s.users.FindByIdentifier(ctx, tenantID, newEmail); err == nil {
		return "", apperr.New(apperr.CodeConflict, "email already in use")
	} else if err != repo.ErrNotFound {
		return "", err
	}

	raw, err := appcrypto.NewOpaqueToken()
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "token generation failed", err)
	}
	now := time.Now()
	t := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, UserID: &u.ID, Email: newEmail,
		Kind: domain.TokenEmailVerify, TokenHash: appcrypto.HashOpaqueToken(raw),
		ExpiresAt: now.Add(1 * time.Hour), CreatedAt: now,
	}
	if err := s.verifications.Insert(ctx, t); err != nil {
		return "", err
	}
	return raw, s.mailer.SendVerification(ctx, newEmail, raw, s.appURLFor(tenantID))
}

// ConfirmEmailChange consumes the token RequestEmailChange issued and
// swaps the user's email to the address the token carries.
func (s *Service) ConfirmEmailChange(ctx context.Context, tenantID uuid.UUID, rawToken string) error {
	t, err := s.consumeToken(ctx, tenantID, domain.TokenEmailVerify, rawToken)
	if err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, tenantID, *t.UserID)
	if err != nil {
		return err
	}
	u.Email = t.Email
	u.EmailVerified = true
	u.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.auditor.Log(ctx, "user.email_changed", audit.LogParams{
		ActorID: u.ID, TargetID: u.ID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})
	return nil
}

// CreateInvitation issues a tenant invitation: an email-bound, role-bound
// token that Register's InviteToken param later consumes.
func (s *Service) CreateInvitation(ctx context.Context, tenantID, invitedBy uuid.UUID, email, role string) (string, error) {
	raw, err := appcrypto.NewOpaqueToken()
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "token generation failed", err)
	}
	now := time.Now()
	t := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, Email: email, Role: role,
		Kind: domain.TokenInvitation, TokenHash: appcrypto.HashOpaqueToken(raw),
		ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now,
	}
	if err := s.verifications.Insert(ctx, t); err != nil {
		return "", err
	}
	if err := s.mailer.SendInvitation(ctx, email, s.appURLFor(tenantID)+"/register?invite="+raw); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "failed to send invitation email", err)
	}
	s.auditor.Log(ctx, "user.invited", audit.LogParams{
		ActorID: invitedBy, TenantID: tenantID,
		ResourceType: "invitation", Outcome: domain.AuditSuccess,
	})
	return raw, nil
}
