// Package domain defines the aggregates described by the data model: the
// tenant-scoped entities every other package operates on. Dynamic blobs
// (branding, auth config, profile, audit details) are typed structs here,
// never untyped maps, so they cannot leak unvalidated shape into business
// logic — they are parsed at the persistence boundary and carried as
// values from then on.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationStatus enumerates the lifecycle of an Organization.
type OrganizationStatus string

const (
	OrganizationActive    OrganizationStatus = "active"
	OrganizationSuspended OrganizationStatus = "suspended"
	OrganizationDeleted   OrganizationStatus = "deleted"
)

// Organization is a container of tenants under common administration.
type Organization struct {
	ID        uuid.UUID
	Name      string
	Status    OrganizationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantStatus enumerates the lifecycle of a Tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// TenantBranding is the typed shape of a tenant's branding blob.
type TenantBranding struct {
	PrimaryColor string `json:"primary_color"`
	LogoURL      string `json:"logo_url,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
}

// TenantAuthConfig is the typed shape of a tenant's auth-config blob: the
// knobs that vary per tenant without needing a schema migration.
type TenantAuthConfig struct {
	AllowPublicRegistration bool     `json:"allow_public_registration"`
	RequireMFA              bool     `json:"require_mfa"`
	AllowedOrigins          []string `json:"allowed_origins,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	// SAMLIdPMetadataEncrypted and SMTPPasswordEncrypted hold ciphertext
	// produced by internal/crypto's tenant-secret sealing, never plaintext.
	SAMLIdPMetadataEncrypted string `json:"saml_idp_metadata_encrypted,omitempty"`
	SMTPHost                 string `json:"smtp_host,omitempty"`
	SMTPPort                 int    `json:"smtp_port,omitempty"`
	SMTPUser                 string `json:"smtp_user,omitempty"`
	SMTPFrom                 string `json:"smtp_from,omitempty"`
	SMTPTLSMode              string `json:"smtp_tls_mode,omitempty"`
	SMTPPasswordEncrypted    string `json:"smtp_password_encrypted,omitempty"`
}

// Tenant is an isolated identity domain owning its own users, roles,
// sessions, and audit chain.
type Tenant struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Slug           string
	CustomDomain   string
	Branding       TenantBranding
	AuthConfig     TenantAuthConfig
	Status         TenantStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserStatus enumerates the lifecycle of a User.
type UserStatus string

const (
	UserPendingVerification UserStatus = "pending_verification"
	UserActive              UserStatus = "active"
	UserSuspended           UserStatus = "suspended"
	UserDeleted             UserStatus = "deleted"
)

// CanAuthenticate reports whether a user in this status may attempt login.
func (s UserStatus) CanAuthenticate() bool {
	return s != UserSuspended && s != UserDeleted
}

// UserProfile is the typed shape of a user's free-form profile blob.
type UserProfile struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// User is an identity scoped to exactly one tenant.
type User struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Email               string // empty if phone-only
	Phone               string // E.164, empty if email-only
	EmailVerified       bool
	PhoneVerified       bool
	PasswordHash        string // empty for passwordless accounts
	PasswordChangedAt   time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	MFAEnabled          bool
	MFASecret           string
	RiskScore           float64 // [0.00, 1.00]
	Status              UserStatus
	Profile             UserProfile
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasIdentifier reports whether the user carries at least one usable
// identifier (email or phone).
func (u *User) HasIdentifier() bool {
	return u.Email != "" || u.Phone != ""
}

// IsLocked reports whether the account's lockout window is still active
// as of now. A locked_until in the past is treated as unlocked.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Role is a tenant-scoped node in the permission hierarchy DAG.
type Role struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Description  string
	ParentRoleID *uuid.UUID // nil => root
	IsSystem     bool       // protected from deletion
	Permissions  []string   // grant codes; "!" prefix marks an explicit deny
	Constraints  string     // ABAC attribute expression, evaluated by internal/authz
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRoleAssignment binds a user to a role within a tenant.
type UserRoleAssignment struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TenantID   uuid.UUID
	RoleID     uuid.UUID
	GrantedBy  uuid.UUID
	GrantedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	RevokedBy  *uuid.UUID
}

// Active reports whether the assignment currently grants its role.
func (a *UserRoleAssignment) Active(now time.Time) bool {
	if a.RevokedAt != nil {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// VerificationTokenKind distinguishes the single-use, hashed, time-limited
// tokens the recovery, verification, and invitation flows issue. They
// share one store since they share one shape: an opaque token handed to
// the caller, a hash kept at rest, and an expiry.
type VerificationTokenKind string

const (
	TokenPasswordReset VerificationTokenKind = "password_reset"
	TokenEmailVerify   VerificationTokenKind = "email_verify"
	TokenInvitation    VerificationTokenKind = "invitation"
)

// VerificationToken is a single-use token row. UserID is nil for an
// invitation, which targets an email that has no user yet; Role is only
// meaningful for an invitation, naming the role to grant on acceptance.
type VerificationToken struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	Email      string
	Role       string
	Kind       VerificationTokenKind
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Valid reports whether the token is still usable as of now.
func (t *VerificationToken) Valid(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshTokenRevokedReason enumerates why a refresh token row was revoked.
type RefreshTokenRevokedReason string

const (
	RevokedReasonRotated          RefreshTokenRevokedReason = "rotated"
	RevokedReasonFamilyCompromise RefreshTokenRevokedReason = "family_compromise"
	RevokedReasonLogout           RefreshTokenRevokedReason = "logout"
	RevokedReasonLogoutAll        RefreshTokenRevokedReason = "logout_all"
	RevokedReasonSessionCascade   RefreshTokenRevokedReason = "session_cascade"
)

// RefreshToken is one link in a refresh-token family chain. Only the
// SHA-256 lookup hash of the opaque secret is ever stored.
type RefreshToken struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TenantID          uuid.UUID
	FamilyID          uuid.UUID
	TokenHash         string
	DeviceFingerprint string
	UserAgent         string
	IP                string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokedReason     RefreshTokenRevokedReason
	CreatedAt         time.Time
}

// Live reports whether the row is currently usable for rotation.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RevokedTokenKind distinguishes access-token jti entries from
// refresh-token-family markers in the revocation index.
type RevokedTokenKind string

const (
	RevokedKindAccess  RevokedTokenKind = "access"
	RevokedKindRefresh RevokedTokenKind = "refresh"
)

// RevokedToken is a row in the revocation index, keyed by jti.
type RevokedToken struct {
	ID        uuid.UUID
	JTI       string
	UserID    uuid.UUID
	TenantID  uuid.UUID
	Kind      RevokedTokenKind
	RevokedAt time.Time
	RevokedBy uuid.UUID
	Reason    string
	ExpiresAt time.Time
}

// Expired reports whether this row is eligible for garbage collection.
func (r *RevokedToken) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Session is a server-side record binding a device to an authenticated user.
type Session struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TenantID          uuid.UUID
	SessionToken       string // opaque, lookup key
	DeviceFingerprint string
	UserAgent         string
	IP                string
	RiskScore         float64
	LastActivity      time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// AuditOutcome enumerates the result of an audited action.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
	AuditError   AuditOutcome = "error"
)

// RiskLevel enumerates the severity of an audit event for triage.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AuditDetails is the typed shape of an audit event's structured details
// blob. Concrete operations populate the fields relevant to them; the rest
// stay zero.
type AuditDetails struct {
	Method        string `json:"method,omitempty"`
	FamilyID      string `json:"family_id,omitempty"`
	Permission    string `json:"permission,omitempty"`
	ResourceType  string `json:"resource_type,omitempty"`
	ChainSequence int64  `json:"chain_sequence,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// AuditEvent is one link in a tenant's hash chain.
type AuditEvent struct {
	ID           uuid.UUID
	Sequence     int64
	TenantID     uuid.UUID
	ActorID      uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      AuditOutcome
	Category     string
	RiskLevel    RiskLevel
	IP           string
	UserAgent    string
	SessionID    uuid.UUID
	RequestID    string
	Details      AuditDetails
	PrevHash     []byte
	Hash         []byte
	CreatedAt    time.Time
}
