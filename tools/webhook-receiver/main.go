// Command webhook-receiver is a local sink for easypost job event webhooks.
// It verifies X-Easypost-Signature when SECRET is set and keeps the last
// events in memory for inspection.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type jobEvent struct {
	JobID     string            `json:"job_id"`
	Status    string            `json:"status"`
	Attempts  int               `json:"attempts"`
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
	PostedAt  time.Time         `json:"posted_at"`
}

type received struct {
	ReceivedAt string   `json:"received_at"`
	Verified   bool     `json:"verified"`
	Event      jobEvent `json:"event"`
}

type stats struct {
	Count      int64          `json:"count"`
	Rejected   int64          `json:"rejected"`
	ByStatus   map[string]int `json:"by_status"`
	LastEvents []received     `json:"last_events"`
	Since      string         `json:"since"`
}

var (
	mu         sync.Mutex
	count      int64
	rejected   int64
	byStatus   = map[string]int{}
	lastEvents []received
	since      time.Time
	maxStored  = 50
	secret     string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		rejected = 0
		byStatus = map[string]int{}
		lastEvents = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s (signature check: %t)", addr, secret != "")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verified := false
	if secret != "" {
		if !verify(secret, body, r.Header.Get("X-Easypost-Signature")) {
			mu.Lock()
			rejected++
			mu.Unlock()
			log.Printf("rejected hook for job %s: bad signature", r.Header.Get("X-Easypost-Job-Id"))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		verified = true
	}

	var ev jobEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid event body", http.StatusBadRequest)
		return
	}

	mu.Lock()
	count++
	byStatus[ev.Status]++
	lastEvents = append(lastEvents, received{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Verified:   verified,
		Event:      ev,
	})
	if len(lastEvents) > maxStored {
		lastEvents = lastEvents[len(lastEvents)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("event #%d: job=%s status=%s attempts=%d succeeded=%v failed=%v",
		current, ev.JobID, ev.Status, ev.Attempts, ev.Succeeded, ev.Failed)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:      count,
		Rejected:   rejected,
		ByStatus:   make(map[string]int, len(byStatus)),
		LastEvents: lastEvents,
		Since:      since.Format(time.RFC3339),
	}
	for k, v := range byStatus {
		s.ByStatus[k] = v
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// verify checks the hex HMAC-SHA256 of body under key.
func verify(key string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
