package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/jackc/pgx/v5"
)

func main() {
	device := flag.String("device", "", "device ID (required)")
	name := flag.String("name", "", "human-friendly device name (optional)")
	platform := flag.String("platform", "android", "device platform: ios, android, web")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	rpm := flag.Int("rpm", 0, "requests per minute limit (0 = server default)")
	spendLimit := flag.Int("spend-limit", 0, "daily spend limit in cents (0 = unlimited)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *device == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -device is required")
		os.Exit(1)
	}
	switch *platform {
	case "ios", "android", "web":
	default:
		log.Fatalf("invalid platform: %s (use ios, android or web)", *platform)
	}

	// Generate key
	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	// Parse expiry
	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	// Connect to database
	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "gamedex")
		pass := envOrDefault("DB_PASSWORD", "gamedex-dev")
		dbname := envOrDefault("DB_NAME", "gamedex")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	// Insert key
	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO device_keys (key_hash, key_prefix, device_id, name, platform, rpm_limit, daily_spend_limit_cents, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, keyHash, keyPrefix, *device, nilIfEmpty(*name), *platform, nilIfZero(*rpm), nilIfZero(*spendLimit), expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	fmt.Println("=== GameDex Device Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:      %s\n", keyID)
	fmt.Printf("  Key Prefix:  %s\n", keyPrefix)
	fmt.Printf("  Device:      %s\n", *device)
	if *name != "" {
		fmt.Printf("  Name:        %s\n", *name)
	}
	fmt.Printf("  Platform:    %s\n", *platform)
	if *rpm > 0 {
		fmt.Printf("  RPM Limit:   %d\n", *rpm)
	}
	if *spendLimit > 0 {
		fmt.Printf("  Spend Limit: %d cents/day\n", *spendLimit)
	}
	fmt.Printf("  Expires:     %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Device Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("====================================")
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZero(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
