package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

// Status представляет состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusDisabled  Status = "disabled"
)

// Check представляет результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// CheckerFunc адаптирует функцию к Checker.
type CheckerFunc func(ctx context.Context) Check

// Check вызывает f.
func (f CheckerFunc) Check(ctx context.Context) Check { return f(ctx) }

// Handler собирает проверки и отдаёт их по HTTP.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startTime time.Time
	now       func() time.Time
}

// NewHandler создаёт handler с таймаутом проверки по умолчанию.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// WithTimeout задаёт таймаут одной проверки.
func (h *Handler) WithTimeout(timeout time.Duration) *Handler {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

// RegisterChecker регистрирует проверку компонента.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает зарегистрированные проверки по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes монтирует /healthz, /readyz и /livez.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.ServeHTTP)
	r.Get("/readyz", h.ReadinessHandler)
	r.Get("/livez", LivenessHandler)
}

// Run выполняет все проверки параллельно и сводит общий статус.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, h.timeout)
			defer cancel()
			check := checker.Check(checkCtx)
			if check.Name == "" {
				check.Name = name
			}
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный JSON со всеми проверками.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     h.now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока хотя бы один компонент нездоров.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	overall, _ := h.Run(r.Context())
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker превращает функцию, возвращающую ошибку, в проверку.
type SimpleChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

// NewSimpleChecker создаёт простую проверку.
func NewSimpleChecker(name string, checkFn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, checkFn: checkFn}
}

// Check выполняет проверку.
func (c *SimpleChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// Pinger описывает компонент с проверкой доступности, например хранилище.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет компонент через Ping.
func NewPingChecker(name string, p Pinger) *SimpleChecker {
	return NewSimpleChecker(name, p.Ping)
}

// Disabled возвращает проверку выключенного компонента. Она не влияет на общий статус.
func Disabled(name, reason string) Checker {
	return CheckerFunc(func(context.Context) Check {
		return Check{Name: name, Status: StatusDisabled, Message: reason}
	})
}
