// Package credential implements password policy validation and the
// per-user lockout state machine (C3), independent of how a password is
// hashed (internal/crypto) or where a user row lives (internal/repo).
package credential

import (
	"strings"
	"unicode"

	"github.com/nullstack-id/identitycore/internal/apperr"
	"github.com/nullstack-id/identitycore/internal/config"
)

// commonPasswords is a small seed blacklist; production deployments back
// this with a larger list loaded at startup via WithCommonList.
var commonPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "password123!": {}, "123456": {}, "12345678": {},
	"qwerty": {}, "letmein": {}, "admin123": {}, "welcome1": {},
}

// Policy validates candidate passwords against a configured ruleset.
type Policy struct {
	cfg    config.PasswordPolicy
	common map[string]struct{}
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.PasswordPolicy) *Policy {
	return &Policy{cfg: cfg, common: commonPasswords}
}

// WithCommonList replaces the blacklist used for RejectCommonList checks.
func (p *Policy) WithCommonList(list map[string]struct{}) *Policy {
	p.common = list
	return p
}

// Validate checks candidate against every configured rule, returning a
// *apperr.Error carrying the list of violated fields when it fails.
// sameAsPrevious reports whether candidate verifies against the user's
// existing password hash (nil if there is none, e.g. at registration);
// the policy never sees the previous plaintext or hash directly.
func (p *Policy) Validate(candidate string, sameAsPrevious func(candidate string) bool) error {
	var fields []string

	if len(candidate) < p.cfg.MinLength {
		fields = append(fields, "min_length")
	}
	if len(candidate) > p.cfg.MaxLength {
		fields = append(fields, "max_length")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.cfg.RequireUpper && !hasUpper {
		fields = append(fields, "require_upper")
	}
	if p.cfg.RequireLower && !hasLower {
		fields = append(fields, "require_lower")
	}
	if p.cfg.RequireDigit && !hasDigit {
		fields = append(fields, "require_digit")
	}
	if p.cfg.RequireSymbol && !hasSymbol {
		fields = append(fields, "require_symbol")
	}

	if p.cfg.RejectCommonList {
		if _, found := p.common[strings.ToLower(candidate)]; found {
			fields = append(fields, "common_password")
		}
	}

	if p.cfg.RejectPreviousHash && sameAsPrevious != nil && sameAsPrevious(candidate) {
		fields = append(fields, "same_as_previous")
	}

	if len(fields) > 0 {
		return apperr.New(apperr.CodeValidation, "password does not meet policy requirements").
			WithDetails(map[string]any{"fields": fields})
	}
	return nil
}
