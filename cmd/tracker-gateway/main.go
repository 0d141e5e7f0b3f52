package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hrstack.local/projects/tracker-gateway/internal/config"
	"hrstack.local/projects/tracker-gateway/internal/dispatch"
	"hrstack.local/projects/tracker-gateway/internal/httpapi"
	"hrstack.local/projects/tracker-gateway/internal/objectstore"
	"hrstack.local/projects/tracker-gateway/internal/subscribers"
	logging "hrstack.local/projects/tracker-gateway/internal/subscribers/logging"
	"hrstack.local/projects/tracker-gateway/internal/subscribers/stream"
	"hrstack.local/projects/tracker-gateway/internal/subscribers/webhook"
	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

func main() {
	logger := log.New(os.Stdout, "tracker ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
	cfg, err := config.FromFileAndEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	store, err := tracker.NewGormStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("failed to initialize session store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	subs := []subscribers.Subscriber{logging.New(logger)}
	var feed *stream.Hub
	if cfg.EnableEventFeed {
		feed = stream.NewHub(logger)
		subs = append(subs, feed)
	}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL))
	}
	dispatcher := dispatch.New(logger, subs)

	var objects objectstore.Client
	if cfg.ObjectStoreURL != "" {
		objects = objectstore.NewHTTPClient(cfg.ObjectStoreURL)
	} else {
		logger.Printf("object store url not configured, using in-memory store (screenshots are not durable)")
		objects = objectstore.NewMemoryStore("")
	}

	service := tracker.NewService(logger, store,
		tracker.WithObjectStore(objects),
		tracker.WithEventSink(dispatcher),
		tracker.WithUploadFolder(cfg.UploadFolder),
		tracker.WithStoreTimeout(cfg.StoreTimeout),
	)
	srv := httpapi.NewServer(logger, cfg.HTTPAddr, service, feed)

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
