package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/shumy-tools/fedpi/internal/config"
	"github.com/shumy-tools/fedpi/internal/consensus"
	"github.com/shumy-tools/fedpi/internal/handlers"
	"github.com/shumy-tools/fedpi/internal/store"
)

func main() {
	var (
		name = flag.String("name", "", "Set the node name")
		home = flag.String("home", "./", "Set the node-app config directory")
		port = flag.Int("port", 26658, "Set the service port")
	)
	flag.Parse()

	if *name == "" {
		log.Fatalf("❌ --name is required")
	}

	log.Printf("🚀 Starting FedPI Node %q", *name)

	cfg, err := config.Load(*home)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	cfg.Name = *name
	cfg.Port = *port

	dbPath := filepath.Join(*home, "state.bolt")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("❌ Failed to open store at %s: %v", dbPath, err)
	}
	defer db.Close()

	proc := handlers.NewProcessor(cfg, db)
	driver := consensus.NewDriver(proc)

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: driver.Handler()}

	go func() {
		log.Printf("🔌 Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("🌐 Node running. Press Ctrl+C to stop.")
	<-sigChan

	log.Println("🛑 Shutting down...")
	if err := srv.Close(); err != nil {
		log.Printf("⚠️ Error closing HTTP server: %v", err)
	}
	log.Println("✅ Shutdown complete")
}
