package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services/impl"
)

// Pre-creates the SQLite databases the gateway opens at startup and seeds
// the initial admin account. The server does the same migrations itself;
// this exists for provisioning a data directory ahead of first boot.
func main() {
	fmt.Println("Bootstrapping Vortex Gateway databases...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	for _, dir := range []string{
		filepath.Dir(cfg.Storage.JobsDBPath),
		filepath.Dir(cfg.Storage.SecurityDBPath),
		cfg.Storage.SnapshotDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	fmt.Println("✅ Data directories created")

	jobsDB, err := gorm.Open(sqlite.Open(cfg.GetJobsDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to open jobs database: %v", err)
	}
	if err := jobsDB.AutoMigrate(&models.Job{}); err != nil {
		log.Fatalf("Failed to migrate jobs table: %v", err)
	}
	fmt.Println("✅ Jobs database ready:", cfg.Storage.JobsDBPath)

	securityDB, err := gorm.Open(sqlite.Open(cfg.GetSecurityDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to open security database: %v", err)
	}
	if err := securityDB.AutoMigrate(&models.User{}); err != nil {
		log.Fatalf("Failed to migrate users table: %v", err)
	}
	fmt.Println("✅ Security database ready:", cfg.Storage.SecurityDBPath)

	if cfg.Auth.AdminSecret == "" {
		fmt.Println("⚠️  ADMIN_SECRET not set, skipping admin seed")
		fmt.Println("Done.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := impl.NewUserService(securityDB).EnsureAdmin(ctx, cfg.Auth.AdminSecret); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}
	fmt.Println("✅ Admin account seeded (username: admin)")
	fmt.Println("Done.")
}
