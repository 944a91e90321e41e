// Upstream is a simple test HTTP server used for gateway testing.
// It accepts JSON order payloads on /orders and exposes /health, with
// optional injected latency and failure rate for exercising circuit
// breaker behavior.
//
// Usage:
//
//	go run ./scripts/upstream -port 8081
//	go run ./scripts/upstream -port 8082 -latency 200ms -fail-rate 0.3
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	mathrand "math/rand"
	"net/http"
	"time"
)

// newUUID generates a random v4 UUID per RFC 4122.
func newUUID() string {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return ""
	}
	// set version (4) and variant bits per RFC 4122
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	// format as hex groups
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(b[0:4]),
		hex.EncodeToString(b[4:6]),
		hex.EncodeToString(b[6:8]),
		hex.EncodeToString(b[8:10]),
		hex.EncodeToString(b[10:16]),
	)
}

// Order represents an accepted order with its assigned identifier.
type Order struct {
	UUID string `json:"uuid"`
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// CreateOrderRequest is the request payload for placing an order.
type CreateOrderRequest struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	latency := flag.Duration("latency", 0, "artificial latency before responding")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests answered with 500")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if *latency > 0 {
			time.Sleep(*latency)
		}
		if *failRate > 0 && mathrand.Float64() < *failRate {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// log request for visibility when running multiple upstreams
		clientAddr := r.RemoteAddr
		log.Printf("request: method=%s path=%s from=%s body=%s", r.Method, r.URL.Path, clientAddr, string(body))
		var req CreateOrderRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}
		if req.Item == "" {
			req.Item = "unknown"
		}
		order := Order{
			UUID: newUUID(),
			Item: req.Item,
			Qty:  req.Qty,
		}

		resp := map[string]any{"order": order}
		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(b)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting upstream on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
