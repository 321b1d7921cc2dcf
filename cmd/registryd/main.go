// cmd/registryd runs C1's tool registry server: the in-memory registry
// plus its HTTP surface (register/servers/health), background health
// probing, and stale-entry sweeping, per spec.md §4.1.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/registry"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("registryd config load: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := registry.New()
	go r.Start(ctx, cfg.Registry.HealthProbeInterval, cfg.Registry.SweepInterval, cfg.Registry.StaleAfter)

	e := registry.NewServer(r)
	log.Printf("registryd listening on %s", *addr)
	if err := e.Start(*addr); err != nil {
		log.Fatalf("registryd service exited: %v", err)
	}
}
