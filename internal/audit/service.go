package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Service defines the interface call sites use to record a security
// event: fire-and-forget, since an audit failure must never block the
// operation it's auditing.
type Service interface {
	Log(ctx context.Context, action string, params LogParams)
}

// LogParams encapsulates the fields a caller supplies for one audit
// event; IP/UserAgent/RequestID are explicit parameters rather than
// pulled from context, so this package never needs to import the HTTP
// middleware layer (which would be a circular dependency).
type LogParams struct {
	ActorID      uuid.UUID
	TargetID     uuid.UUID
	TenantID     uuid.UUID
	SessionID    uuid.UUID
	ResourceType string
	Outcome      domain.AuditOutcome
	RiskLevel    domain.RiskLevel
	IP           string
	UserAgent    string
	RequestID    string
	Metadata     map[string]interface{}
}

// ChainService implements Service against the persisted hash chain
// (Chain.Append) and layers the operational slog sink (JSONAuditLogger)
// on top, so log aggregators see every event in real time while the
// chain remains the tamper-evident source of truth. Chain writes run
// synchronously, blocking on the audit insert rather than risking lost
// events in an async queue; a higher-throughput deployment would put a
// durable queue in front of this instead of changing the interface.
type ChainService struct {
	chain  *Chain
	sink   *JSONAuditLogger
	logger *slog.Logger
}

// NewChainService builds a ChainService.
func NewChainService(chain *Chain, sink *JSONAuditLogger, logger *slog.Logger) *ChainService {
	return &ChainService{chain: chain, sink: sink, logger: logger}
}

func stringifyMetadata(in map[string]interface{}) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// Log appends the event to the tenant's hash chain and mirrors it to the
// operational log sink. Outcome defaults to success and risk level to
// low when the caller doesn't set them, matching the common case of a
// routine action being logged.
func (s *ChainService) Log(ctx context.Context, action string, params LogParams) {
	outcome := params.Outcome
	if outcome == "" {
		outcome = domain.AuditSuccess
	}
	risk := params.RiskLevel
	if risk == "" {
		risk = domain.RiskLow
	}

	_, err := s.chain.Append(ctx, AppendParams{
		TenantID:     params.TenantID,
		ActorID:      params.ActorID,
		Action:       action,
		ResourceType: params.ResourceType,
		ResourceID:   params.TargetID.String(),
		Outcome:      outcome,
		RiskLevel:    risk,
		IP:           params.IP,
		UserAgent:    params.UserAgent,
		SessionID:    params.SessionID,
		RequestID:    params.RequestID,
		Details:      domain.AuditDetails{Extra: stringifyMetadata(params.Metadata)},
	})
	if err != nil {
		s.logger.Error("audit chain append failed", "action", action, "tenant_id", params.TenantID, "error", err)
	}

	if s.sink != nil {
		s.sink.Log(ctx, params.ActorID, EventType(action), params.ResourceType, stringifyMetadata(params.Metadata))
	}
}
