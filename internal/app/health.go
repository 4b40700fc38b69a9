package app

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quickoh/relay/internal"
	log "github.com/sirupsen/logrus"
)

type HealthChecker interface {
	HealthCheck() error
}

// HealthManager tracks two signals. Healthy follows the ephemeral backend;
// ready additionally needs the durable store.
type HealthManager struct {
	healthy   int64
	ready     int64
	ephemeral HealthChecker
	durable   HealthChecker
}

func NewHealthManager(ephemeral, durable HealthChecker) *HealthManager {
	return &HealthManager{ephemeral: ephemeral, durable: durable}
}

func (h *HealthManager) UpdateHealthStatus() {
	log := log.WithField("prefix", "HealthManager.UpdateHealthStatus")

	var healthy, ready int64 = 1, 1
	if err := h.ephemeral.HealthCheck(); err != nil {
		log.Warnf("ephemeral backend unhealthy: %v", err)
		healthy, ready = 0, 0
	}
	if h.durable != nil {
		if err := h.durable.HealthCheck(); err != nil {
			log.Warnf("durable store unhealthy: %v", err)
			ready = 0
		}
	}

	atomic.StoreInt64(&h.healthy, healthy)
	atomic.StoreInt64(&h.ready, ready)
	HealthMetric.Set(float64(healthy))
	ReadyMetric.Set(float64(ready))
}

func (h *HealthManager) StartHealthMonitoring(interval time.Duration, stop <-chan struct{}) {
	h.UpdateHealthStatus()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.UpdateHealthStatus()
		case <-stop:
			return
		}
	}
}

func (h *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, atomic.LoadInt64(&h.healthy) == 1)
}

func (h *HealthManager) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, atomic.LoadInt64(&h.ready) == 1)
}

func writeStatus(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Build-Commit", internal.RelayVersionRevision)

	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	if _, err := fmt.Fprintf(w, `{"status":"%s"}`+"\n", status); err != nil {
		log.Errorf("health response write error: %v", err)
	}
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Build-Commit", internal.RelayVersionRevision)

	w.WriteHeader(http.StatusOK)
	response := fmt.Sprintf(`{"version":"%s"}`, internal.RelayVersionRevision)
	_, err := fmt.Fprintf(w, "%s", response+"\n")
	if err != nil {
		log.Errorf("version response write error: %v", err)
	}
}
