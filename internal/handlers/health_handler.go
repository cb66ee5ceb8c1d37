package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/walletmvp/backend/internal/rates"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
	redis *redis.Client
	rates *rates.Table
}

func NewHealthHandler(store Pinger, client *redis.Client, table *rates.Table) *HealthHandler {
	return &HealthHandler{store: store, redis: client, rates: table}
}

// Health reports store, redis and rate table status
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	store := "up"
	if err := h.store.Ping(ctx); err != nil {
		store = "down"
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	cache := "disabled"
	if h.redis != nil {
		cache = "up"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			cache = "down"
		}
	}

	snap := h.rates.Snapshot()
	writeJSON(w, code, map[string]any{
		"status":          status,
		"store":           store,
		"redis":           cache,
		"rates":           snap.Len(),
		"rates_loaded_at": snap.LoadedAt,
	})
}
