// Command control is an operator CLI for one-off tenant and user
// maintenance that doesn't belong behind an HTTP endpoint: seeding a
// tenant for a new customer, resetting a locked-out user's password, or
// granting a role directly when the admin API itself is unreachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nullstack-id/identitycore/internal/config"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo/postgres"
	"github.com/nullstack-id/identitycore/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: control <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  create-tenant    Create a new tenant under an organization")
		fmt.Println("  reset-password   Reset a user's password")
		fmt.Println("  check-user       Print a user's status and role assignments")
		fmt.Println("  grant-role       Assign an existing role to a user")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	pool, err := storage.NewPostgres(cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "create-tenant":
		createTenantCmd(pool)
	case "reset-password":
		resetPasswordCmd(pool, cfg)
	case "check-user":
		checkUserCmd(pool)
	case "grant-role":
		grantRoleCmd(pool)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func createTenantCmd(pool *pgxpool.Pool) {
	fs := flag.NewFlagSet("create-tenant", flag.ExitOnError)
	orgID := fs.String("org", "", "Organization ID (UUID)")
	slug := fs.String("slug", "", "Tenant slug (e.g. 'acme')")
	fs.Parse(os.Args[2:])

	if *orgID == "" || *slug == "" {
		fmt.Println("Error: --org and --slug are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	orgUUID, err := uuid.Parse(*orgID)
	if err != nil {
		log.Fatalf("invalid organization id: %v", err)
	}

	orgs := postgres.NewOrganizations(pool)
	ctx := context.Background()
	if _, err := orgs.FindByID(ctx, orgUUID); err != nil {
		log.Fatalf("organization not found: %v", err)
	}

	t := &domain.Tenant{
		ID:             uuid.New(),
		OrganizationID: orgUUID,
		Slug:           *slug,
		Status:         domain.TenantActive,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	tenants := postgres.NewTenants(pool)
	if err := tenants.Insert(ctx, t); err != nil {
		log.Fatalf("failed to create tenant: %v", err)
	}

	fmt.Printf("tenant created: id=%s slug=%s org=%s\n", t.ID, t.Slug, t.OrganizationID)
}

func resetPasswordCmd(pool *pgxpool.Pool, cfg *config.Config) {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	password := fs.String("password", "", "New password")
	tenant := fs.String("tenant", "", "Tenant ID (UUID)")
	fs.Parse(os.Args[2:])

	if *email == "" || *password == "" || *tenant == "" {
		fmt.Println("Error: --email, --password, and --tenant are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	tenantUUID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatalf("invalid tenant id: %v", err)
	}

	users := postgres.NewUsers(pool)
	ctx := context.Background()
	u, err := users.FindByIdentifier(ctx, tenantUUID, *email)
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}

	hp := cfg.Security.PasswordHashParams
	hasher := appcrypto.NewArgon2Hasher(appcrypto.Argon2Params{
		MemoryKiB:   hp.MemoryKiB,
		Iterations:  hp.Iterations,
		Parallelism: hp.Parallelism,
		SaltLen:     16,
		KeyLen:      32,
	})
	hash, err := hasher.Hash(*password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	u.PasswordHash = hash
	u.PasswordChangedAt = time.Now()
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	if err := users.Update(ctx, u); err != nil {
		log.Fatalf("failed to update user: %v", err)
	}

	fmt.Printf("password reset for %s\n", *email)
}

func checkUserCmd(pool *pgxpool.Pool) {
	fs := flag.NewFlagSet("check-user", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	tenant := fs.String("tenant", "", "Tenant ID (UUID)")
	fs.Parse(os.Args[2:])

	if *email == "" || *tenant == "" {
		fmt.Println("Error: --email and --tenant are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	tenantUUID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatalf("invalid tenant id: %v", err)
	}

	users := postgres.NewUsers(pool)
	assignments := postgres.NewRoleAssignments(pool)
	roles := postgres.NewRoles(pool)
	ctx := context.Background()

	u, err := users.FindByIdentifier(ctx, tenantUUID, *email)
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}

	fmt.Printf("id=%s email=%s status=%s mfa_enabled=%v locked=%v\n",
		u.ID, u.Email, u.Status, u.MFAEnabled, u.IsLocked(time.Now()))

	grants, err := assignments.ListByUser(ctx, tenantUUID, u.ID)
	if err != nil {
		log.Fatalf("failed to list role assignments: %v", err)
	}
	if len(grants) == 0 {
		fmt.Println("no role assignments")
		return
	}
	for _, a := range grants {
		r, err := roles.FindByID(ctx, tenantUUID, a.RoleID)
		if err != nil {
			fmt.Printf("  role=%s (lookup failed: %v)\n", a.RoleID, err)
			continue
		}
		fmt.Printf("  role=%s active=%v\n", r.Name, a.Active(time.Now()))
	}
}

func grantRoleCmd(pool *pgxpool.Pool) {
	fs := flag.NewFlagSet("grant-role", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	tenant := fs.String("tenant", "", "Tenant ID (UUID)")
	role := fs.String("role", "", "Role name")
	fs.Parse(os.Args[2:])

	if *email == "" || *tenant == "" || *role == "" {
		fmt.Println("Error: --email, --tenant, and --role are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	tenantUUID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatalf("invalid tenant id: %v", err)
	}

	ctx := context.Background()
	users := postgres.NewUsers(pool)
	roles := postgres.NewRoles(pool)
	assignments := postgres.NewRoleAssignments(pool)

	u, err := users.FindByIdentifier(ctx, tenantUUID, *email)
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}
	r, err := roles.FindByName(ctx, tenantUUID, *role)
	if err != nil {
		log.Fatalf("role not found: %v", err)
	}

	a := &domain.UserRoleAssignment{
		ID:        uuid.New(),
		UserID:    u.ID,
		TenantID:  tenantUUID,
		RoleID:    r.ID,
		GrantedBy: u.ID,
		GrantedAt: time.Now(),
	}
	if err := assignments.Insert(ctx, a); err != nil {
		log.Fatalf("failed to grant role: %v", err)
	}

	fmt.Printf("role %q granted to %s\n", r.Name, *email)
}
