// Command maasctl registers a model endpoint for discovery and keeps it
// registered until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/aevon-lab/aevon-profiler/internal/maas"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// functionFlags collects repeated -function name=path flags.
type functionFlags map[string]string

func (f functionFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f functionFlags) Set(s string) error {
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("expected name=path, got %q", s)
	}
	f[name] = path
	return nil
}

func main() {
	functions := functionFlags{}
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	bucket := flag.String("bucket", maas.DefaultServiceRoot, "Key-value bucket holding endpoint registrations")
	name := flag.String("name", "", "Model name")
	version := flag.String("version", "", "Model version")
	url := flag.String("url", "", "Base URL of the model instance")
	flag.Var(functions, "function", "Sub-function path override as name=path (repeatable)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := run(*natsURL, *bucket, discovery.Endpoint{
		Name:      *name,
		Version:   *version,
		URL:       *url,
		Functions: functions,
	}); err != nil {
		slog.Error("maasctl failed", "error", err)
		os.Exit(1)
	}
}

func run(natsURL, bucket string, ep discovery.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	nc, err := nats.Connect(natsURL, nats.Name("maasctl"))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("open JetStream: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "model endpoint registrations",
	})
	if err != nil {
		return fmt.Errorf("open bucket %q: %w", bucket, err)
	}

	key, err := discovery.Register(ctx, kv, uuid.New(), ep)
	if err != nil {
		return err
	}
	slog.Info("[maasctl] Registered endpoint", "key", key, "name", ep.Name, "version", ep.Version, "url", ep.URL)

	<-ctx.Done()

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := discovery.Deregister(deregisterCtx, kv, key); err != nil {
		return err
	}
	slog.Info("[maasctl] Deregistered endpoint", "key", key)
	return nil
}
