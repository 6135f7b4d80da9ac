// Command healthcheck probes the bot's HTTP health endpoint for container
// health checks. It exits non-zero unless the endpoint answers 200.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// probeURL derives the endpoint from HEALTHCHECK_URL or HTTP_ADDR.
func probeURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return u
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}

func check(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	return resp.StatusCode == http.StatusOK
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	if !check(context.Background(), client, probeURL()) {
		os.Exit(1)
	}
}
