package api

import (
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/federation"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/token"
)

// FederationHandler bridges the external identity-provider adapters
// (OIDC, SAML, OAuth2.1) to the session issuance every other login path
// goes through.
type FederationHandler struct {
	oidc  *federation.OIDCClient
	saml  *federation.SAMLServiceProvider
	oauth *federation.AuthorizationServer

	identity *identity.Service
	users    repo.Users
	tokens   *token.Provider
}

// OIDCConfiguration serves the minimal discovery document clients need
// to find this service's JWKS endpoint.
func (h *FederationHandler) OIDCConfiguration(w http.ResponseWriter, r *http.Request) {
	issuer := "https://" + r.Host
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"issuer":                 issuer,
		"jwks_uri":               issuer + "/.well-known/jwks.json",
		"authorization_endpoint": issuer + "/api/v1/federation/oidc/authorize",
		"token_endpoint":         issuer + "/api/v1/federation/oauth/token",
		"response_types_supported": []string{"code"},
		"subject_types_supported":  []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

// JWKS serves the current and grace-window signing keys so relying
// parties can verify tokens this service issues.
func (h *FederationHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	keys, err := h.tokens.GetJWKS()
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: keys})
}

// SAMLMetadata serves this service's SAML Service Provider metadata for
// IdP-side configuration.
func (h *FederationHandler) SAMLMetadata(w http.ResponseWriter, r *http.Request) {
	if h.saml == nil {
		helpers.RespondError(w, http.StatusNotFound, "saml is not configured")
		return
	}
	doc, err := h.saml.Metadata()
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(doc)
}

// OIDCBeginAuthorization redirects the caller to the upstream identity
// provider's authorization endpoint.
func (h *FederationHandler) OIDCBeginAuthorization(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		helpers.RespondError(w, http.StatusNotFound, "oidc is not configured")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	redirectURL, _, err := h.oidc.BeginAuthorization(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// OIDCCallback completes the authorization code flow, resolves or
// creates the local user, and issues a session exactly as a password
// login would.
func (h *FederationHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		helpers.RespondError(w, http.StatusNotFound, "oidc is not configured")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		helpers.RespondError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	verified, err := h.oidc.CompleteAuthorization(r.Context(), tenantID, code, state)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	h.finishFederatedLogin(w, r, tenantID, verified)
}

// SAMLConsumeAssertion is the Assertion Consumer Service endpoint the
// IdP POSTs the signed assertion to.
func (h *FederationHandler) SAMLConsumeAssertion(w http.ResponseWriter, r *http.Request) {
	if h.saml == nil {
		helpers.RespondError(w, http.StatusNotFound, "saml is not configured")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	if err := r.ParseForm(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	raw := r.FormValue("SAMLResponse")
	if raw == "" {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
	}
	if raw == "" {
		helpers.RespondError(w, http.StatusBadRequest, "SAMLResponse is required")
		return
	}

	attrs, err := h.saml.ConsumeAssertion(r.Context(), tenantID, []byte(raw))
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	email := attrs.NameID
	if values, ok := attrs.Attributes["email"]; ok && len(values) > 0 {
		email = values[0]
	}
	verified := &federation.VerifiedIdentity{Subject: attrs.NameID, Email: email, EmailVerified: true}

	h.finishFederatedLogin(w, r, tenantID, verified)
}

func (h *FederationHandler) finishFederatedLogin(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, verified *federation.VerifiedIdentity) {
	u, err := federation.ResolveOrCreateUser(r.Context(), h.users, tenantID, verified)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	result, err := h.identity.LoginFederated(r.Context(), u, helpers.GetRealIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	setSessionCookies(w, result)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

// OAuthToken implements the token endpoint for both the authorization_code
// and client_credentials grants of the tenant's own OAuth2.1 authorization
// server (distinct from OIDC/SAML, which log a user into this service;
// this issues tokens other services use to call this service's API).
func (h *FederationHandler) OAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		helpers.RespondError(w, http.StatusNotFound, "oauth2 authorization server is not configured")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	if err := r.ParseForm(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	clientID, err := uuid.Parse(r.FormValue("client_id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid client_id")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		accessToken, refreshToken, err := h.oauth.ExchangeAuthorizationCode(r.Context(), tenantID, clientID,
			r.FormValue("code"), r.FormValue("redirect_uri"), r.FormValue("code_verifier"))
		if err != nil {
			helpers.RespondAppError(w, r, err)
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken, "refresh_token": refreshToken, "token_type": "Bearer",
		})
	case "client_credentials":
		accessToken, err := h.oauth.ClientCredentials(r.Context(), tenantID, clientID, r.FormValue("client_secret"))
		if err != nil {
			helpers.RespondAppError(w, r, err)
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken, "token_type": "Bearer",
		})
	default:
		helpers.RespondError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}
