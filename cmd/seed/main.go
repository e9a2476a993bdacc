// seed upserts the role catalog (ROLES_FILE) and, when BOOTSTRAP_ADMIN_EMAIL and
// BOOTSTRAP_ADMIN_PASSWORD are set, creates a SUPER_ADMIN identity. Idempotent: definitions are
// replaced and an existing admin e-mail is left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"gathering-marketplace/backend/internal/config"
	"gathering-marketplace/backend/internal/db"
	identityrepo "gathering-marketplace/backend/internal/identity/repository"
	identityservice "gathering-marketplace/backend/internal/identity/service"
	"gathering-marketplace/backend/internal/platform/cache"
	"gathering-marketplace/backend/internal/role/catalog"
	roledomain "gathering-marketplace/backend/internal/role/domain"
	rolerepo "gathering-marketplace/backend/internal/role/repository"
	"gathering-marketplace/backend/internal/security"
)

func main() {
	rolesFile := flag.String("roles", "", "role catalog file (defaults to ROLES_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *rolesFile == "" {
		*rolesFile = cfg.RolesFile
	}

	cat, err := catalog.Load(*rolesFile)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	roles := rolerepo.NewPostgresRepository(conn)
	codes := make([]roledomain.RoleCode, 0, len(cat.Roles))
	for _, def := range cat.Roles {
		if err := roles.UpsertDefinition(ctx, def); err != nil {
			log.Fatalf("seed: upsert role %s: %v", def.Code, err)
		}
		codes = append(codes, def.Code)
	}
	log.Printf("seed: upserted %d role definitions", len(codes))

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("seed: redis unavailable, cached definitions expire after %s: %v", cfg.RoleCacheTTLDuration(), err)
		} else {
			defer client.Close()
			cached := rolerepo.NewCachedDefinitions(roles, cache.NewRedis(client, "gathering:roles:"), cfg.RoleCacheTTLDuration())
			if err := cached.Invalidate(ctx, codes...); err != nil {
				log.Printf("seed: invalidate cached definitions: %v", err)
			}
		}
	}

	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		log.Println("Seed completed successfully.")
		return
	}

	provisioner := identityservice.NewProvisioner(identityrepo.NewPostgresRepository(conn), roles, security.NewHasher(cfg.BcryptCost))
	admin, err := provisioner.CreateIdentity(ctx, identityservice.NewIdentity{
		Email:         cfg.BootstrapAdminEmail,
		Password:      cfg.BootstrapAdminPassword,
		EmailVerified: true,
		Roles:         []roledomain.RoleCode{roledomain.SuperRole},
		GrantedBy:     "seed",
	})
	switch {
	case errors.Is(err, identityservice.ErrEmailAlreadyRegistered):
		log.Printf("seed: %s already exists, skipping bootstrap admin", cfg.BootstrapAdminEmail)
	case err != nil:
		log.Fatalf("seed: bootstrap admin: %v", err)
	default:
		fmt.Printf("Bootstrap admin: %s (%s)\n", admin.Email, admin.ID)
	}
	log.Println("Seed completed successfully.")
}
