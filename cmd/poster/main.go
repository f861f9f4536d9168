package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duskpost/poster/internal/app"
	"github.com/duskpost/poster/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api, worker, provision-tenant, deprovision-tenant (overrides POSTER_MODE)")
	tenantName := flag.String("tenant-name", "", "display name for provision-tenant mode")
	tenantSlug := flag.String("tenant-slug", "", "schema-safe slug for provision-tenant/deprovision-tenant mode")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *tenantName != "" {
		cfg.TenantName = *tenantName
	}
	if *tenantSlug != "" {
		cfg.TenantSlug = *tenantSlug
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
