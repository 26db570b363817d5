package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 3 * time.Second

// Check tests one dependency. A failing critical check makes the service
// unhealthy; any other failure only degrades it.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

type checkResult struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type HealthHandler struct {
	service string
	version string
	checks  []Check
}

func NewHealthHandler(service, version string, checks ...Check) *HealthHandler {
	return &HealthHandler{service: service, version: version, checks: checks}
}

func (h *HealthHandler) run(ctx context.Context) (string, map[string]checkResult) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make(map[string]checkResult, len(h.checks))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		degraded bool
		down     bool
	)
	for _, chk := range h.checks {
		wg.Add(1)
		go func(chk Check) {
			defer wg.Done()
			start := time.Now()
			err := chk.Run(ctx)
			res := checkResult{Status: "ok", LatencyMS: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Status = "error"
				res.Error = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[chk.Name] = res
			if err != nil {
				if chk.Critical {
					down = true
				} else {
					degraded = true
				}
			}
		}(chk)
	}
	wg.Wait()

	switch {
	case down:
		return "unhealthy", results
	case degraded:
		return "degraded", results
	}
	return "healthy", results
}

func (h *HealthHandler) Health(c *gin.Context) {
	status, results := h.run(c.Request.Context())
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"version": h.version,
		"time":    time.Now().UTC(),
		"checks":  results,
	})
}

// Ready only looks at critical checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()
	for _, chk := range h.checks {
		if !chk.Critical {
			continue
		}
		if err := chk.Run(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": chk.Name + ": " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
