// Command sambadeck runs the web console core for a remote Samba host.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sambadeck/sambadeck/internal/audit"
	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/config"
	"github.com/sambadeck/sambadeck/internal/console"
	"github.com/sambadeck/sambadeck/internal/guard"
	"github.com/sambadeck/sambadeck/internal/remote"
	"github.com/sambadeck/sambadeck/internal/sandbox"
	"github.com/sambadeck/sambadeck/internal/vault"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("Sambadeck starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	credVault, err := vault.New(cfg.EncryptionKey, cfg.SessionTTL, cfg.MaxSessions)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}
	if credVault.Generated() {
		log.Printf("WARNING: No encryption key configured, using a random per-process key")
		log.Printf("WARNING: All sessions will be invalidated on restart")
	}

	issuer, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to initialize token issuer: %v", err)
	}

	sb, err := sandbox.New(cfg.SandboxRoots)
	if err != nil {
		log.Fatalf("Invalid sandbox roots: %v", err)
	}
	log.Printf("File operations confined to %v", sb.Roots())

	sink, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("Failed to open audit log %s: %v", cfg.AuditLogPath, err)
	}
	defer sink.Close()

	if cfg.HostKeyFingerprint == "" {
		log.Printf("WARNING: No host key fingerprint pinned, remote host keys are not verified")
		log.Printf("WARNING: Set SAMBADECK_HOST_KEY_FINGERPRINT for production")
	}
	engine := remote.NewEngine(remote.Config{
		ConnectTimeout:     cfg.ConnectTimeout,
		CommandTimeout:     cfg.CommandTimeout,
		HostKeyFingerprint: cfg.HostKeyFingerprint,
	})

	loginLimit := guard.NewLimiter(cfg.LoginLimit, cfg.LoginWindow)
	apiLimit := guard.NewLimiter(cfg.APILimit, cfg.APIWindow)
	destructiveLimit := guard.NewLimiter(cfg.DestructiveLimit, cfg.DestructiveWindow)
	lockout := guard.NewLockout(cfg.LockoutThreshold, cfg.LockoutDuration)

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	defer stopSweepers()
	credVault.StartSweeper(sweepCtx, cfg.SweepInterval)
	loginLimit.StartSweeper(sweepCtx, cfg.SweepInterval)
	apiLimit.StartSweeper(sweepCtx, cfg.SweepInterval)
	destructiveLimit.StartSweeper(sweepCtx, cfg.SweepInterval)

	server := console.NewServer(cfg.ListenAddr, console.Deps{
		Vault:       credVault,
		Issuer:      issuer,
		Gateway:     auth.NewGateway(issuer, credVault),
		Engine:      engine,
		Sandbox:     sb,
		Audit:       sink,
		LoginLimit:  loginLimit,
		APILimit:    apiLimit,
		Destructive: destructiveLimit,
		Lockout:     lockout,
		Secure:      true,
	})

	go func() {
		if err := server.Start(); err != http.ErrServerClosed {
			log.Fatalf("Console server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	stopSweepers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Console shutdown error: %v", err)
	}

	log.Println("Sambadeck stopped")
}
