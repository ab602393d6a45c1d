package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"waygate/internal/platform/config"
	"waygate/internal/platform/database"
)

// Initializes the webhook store and credential root, and optionally prunes
// old delivery-trail rows. Run it once before first boot or from a cron job
// with -prune-deliveries.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	pruneDeliveries := flag.Duration("prune-deliveries", 0, "Delete delivery-trail rows older than this (0 disables pruning)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.WhatsApp.CredentialRoot, 0700); err != nil {
		log.Fatalf("Failed to create credential root: %v", err)
	}
	log.Printf("Credential root ready at %s", cfg.WhatsApp.CredentialRoot)

	db, err := database.Open(cfg.Webhooks.StorePath)
	if err != nil {
		log.Fatalf("Failed to open webhook store: %v", err)
	}
	defer db.Close()
	log.Printf("Webhook store ready at %s", cfg.Webhooks.StorePath)

	if *pruneDeliveries > 0 {
		cutoff := time.Now().Add(-*pruneDeliveries).Unix()
		res, err := db.Exec(`DELETE FROM webhook_deliveries WHERE created_at < ?`, cutoff)
		if err != nil {
			log.Fatalf("Failed to prune delivery trail: %v", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			log.Printf("Pruned %d delivery-trail rows older than %s", n, *pruneDeliveries)
		}
	}

	fmt.Println("Store initialization completed successfully")
}
