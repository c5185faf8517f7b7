// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command telemetry-demo drives the telemetry core with a synthetic
// workload against an in-process reference uploader, so its behavior
// can be observed without a running Ouinet client or a real collection
// endpoint.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"math/rand"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	telemetry "github.com/equalitie/ouinet-telemetry"
	"github.com/equalitie/ouinet-telemetry/internal/config"
	"github.com/equalitie/ouinet-telemetry/internal/metrics"
	"github.com/equalitie/ouinet-telemetry/internal/telemetrycrypto"
	"github.com/equalitie/ouinet-telemetry/internal/uploaderhttp"
)

func main() {
	rootDir := flag.String("root", "", "State directory (default: a fresh temp dir)")
	duration := flag.Duration("duration", time.Minute, "How long to run the synthetic workload")
	flag.Parse()

	dir := *rootDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "telemetry-demo-")
		if err != nil {
			log.Fatalf("create temp dir: %v", err)
		}
		log.Printf("using temp state dir: %s", dir)
	}

	pub, priv, err := telemetrycrypto.GenerateRecipientKeypair()
	if err != nil {
		log.Fatalf("generate recipient keypair: %v", err)
	}
	keyPath := filepath.Join(dir, "recipient.hex")
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(pub[:])), 0600); err != nil {
		log.Fatalf("write recipient key: %v", err)
	}
	_ = priv // held only so a future decrypt-and-inspect step could use it

	server := uploaderhttp.NewServer()
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.RootDir = dir
	cfg.RecipientKeyPath = keyPath
	cfg.WriteDebounce = "2s"
	cfg.MetricsListenAddr = "127.0.0.1:9477"

	client, err := telemetry.NewClient(cfg)
	if err != nil {
		log.Fatalf("start telemetry client: %v", err)
	}
	defer client.Close()

	client.InstallUploader(uploaderhttp.New(ts.URL + "/records"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx, stop := context.WithTimeout(ctx, *duration)
	defer stop()

	log.Printf("device %s, record %s", client.DeviceID(), client.RecordID())
	runWorkload(ctx, client)
	log.Printf("demo complete; server received %d records", len(server.Received()))
}

// runWorkload simulates bootstrap attempts, cache requests, and bridge
// traffic at a steady rate until ctx is done.
func runWorkload(ctx context.Context, client *telemetry.Client) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			simulateBootstrap(client)
			simulateRequest(client)
			client.AddBridgeI2C(uint64(rand.Intn(4096)))
			client.AddBridgeC2I(uint64(rand.Intn(1024)))
		}
	}
}

func simulateBootstrap(client *telemetry.Client) {
	ipv := metrics.IPv4
	if rand.Intn(2) == 0 {
		ipv = metrics.IPv6
	}
	h := client.StartBootstrap(ipv)
	go func() {
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
		if rand.Intn(10) < 8 {
			h.Succeeded()
		} else {
			h.Failed()
		}
	}()
}

func simulateRequest(client *telemetry.Client) {
	reqType := "cache-hit"
	if rand.Intn(3) == 0 {
		reqType = "cache-miss"
	}
	h := client.StartRequest(reqType)
	h.IncrementTransferSize(uint64(rand.Intn(65536)))
	go func() {
		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
		if rand.Intn(20) < 19 {
			h.Succeeded()
		} else {
			h.Failed()
		}
	}()
}
