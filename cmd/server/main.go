package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/api"
	"github.com/gardna/rocketdrop/internal/config"
	"github.com/gardna/rocketdrop/internal/dedup"
	"github.com/gardna/rocketdrop/internal/logger"
	"github.com/gardna/rocketdrop/internal/mailbox"
	"github.com/gardna/rocketdrop/internal/pipeline"
	"github.com/gardna/rocketdrop/internal/stage"
	"github.com/gardna/rocketdrop/internal/transform"
	"github.com/gardna/rocketdrop/internal/upload"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	store, err := dedup.Open(cfg.DBPath)
	if err != nil {
		zlog.Fatal("failed to open dedup store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	driveClient, err := upload.NewClient(cfg.DriveURL, cfg.DriveUser, cfg.DrivePassword)
	if err != nil {
		zlog.Fatal("failed to create drive client", zap.Error(err))
	}
	authenticateDrive(ctx, driveClient, zlog)

	// Probe the mailbox once at boot so a bad host or bad credentials kill
	// the process immediately instead of failing silently on every trigger.
	probe, err := mailbox.Connect(mailboxOptions(cfg), zlog)
	if err != nil {
		zlog.Fatal("failed to connect to mailbox", zap.Error(err))
	}
	probe.Close()

	uploader := upload.NewUploader(driveClient)
	stager := stage.NewStager(cfg.WorkDir, zlog)
	transformer := transform.NewTransformer(uploader, nil, zlog)

	dial := func() (pipeline.Mailbox, error) {
		return mailbox.Connect(mailboxOptions(cfg), zlog)
	}
	pipe := pipeline.New(dial, store, stager, transformer, cfg.RecipientTag, cfg.StartupDelay, zlog)

	server := NewServer(pipe, zlog)

	address := ":" + cfg.Port
	zlog.Info("rocketdrop server starting",
		zap.String("address", address),
		zap.String("environment", cfg.Environment))

	if err := http.ListenAndServe(address, server); err != nil {
		zlog.Fatal("server failed to start", zap.Error(err))
	}
}

// NewServer creates and returns the HTTP handler for the trigger surface.
func NewServer(pipe *pipeline.Pipeline, zlog *zap.Logger) http.Handler {
	triggerHandler := api.NewTriggerHandler(pipe, zlog)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			triggerHandler.Trigger(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "Rocketdrop is running")
	})

	return mux
}

func mailboxOptions(cfg *config.Config) mailbox.Options {
	return mailbox.Options{
		Host:     cfg.IMAPHost,
		Username: cfg.IMAPUser,
		Password: cfg.IMAPPassword,
		Mailbox:  cfg.Mailbox,
		UseTLS:   cfg.Environment != "test",
	}
}

// authenticateDrive opens the drive session, walking the interactive
// step-up exchange on first run. Drive access is a precondition for the
// service, so any failure here exits the process.
func authenticateDrive(ctx context.Context, client *upload.Client, zlog *zap.Logger) {
	err := client.Authenticate(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, upload.ErrStepUpRequired) {
		zlog.Fatal("failed to authenticate with drive", zap.Error(err))
	}

	zlog.Info("two-factor authentication required")
	fmt.Print("Enter the code you received on one of your approved devices: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		zlog.Fatal("failed to read verification code", zap.Error(err))
	}

	if err := client.ValidateCode(ctx, strings.TrimSpace(code)); err != nil {
		zlog.Fatal("failed to verify security code", zap.Error(err))
	}

	if err := client.TrustSession(ctx); err != nil {
		zlog.Warn("failed to request session trust, expect another code prompt in the coming weeks",
			zap.Error(err))
	}
}
