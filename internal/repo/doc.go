// Package repo defines one contract per aggregate, per the repository
// layer's design: find_by_id, find_by_identifier, insert, update,
// soft_delete, list_by_tenant.
//
// Tenant isolation convention: every method operating on a tenant-scoped
// aggregate takes a tenantID uuid.UUID as an explicit parameter, and every
// implementation MUST filter its underlying query on that tenant_id — no
// method here is allowed to return rows across tenants (a find-by-email
// without a tenant, for example, is deliberately not part of this
// contract). The postgres implementation additionally runs under
// Row-Level-Security via WithTenantContext as defense-in-depth; the memory
// implementation enforces the same predicate in Go, which the memory
// package's unit tests exercise; the postgres implementation has no tests
// in this repository.
//
// Implementations return the sentinel errors in errors.go; they never
// leak driver-specific error types to callers.
package repo
