package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for auth_login_total and auth_refresh_total.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLimited = "rate_limited"
	ResultLocked  = "locked"
	ResultError   = "error"
	ResultMissing = "missing"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	LoginTotal      *prometheus.CounterVec
	RefreshTotal    *prometheus.CounterVec
	LogoutTotal     prometheus.Counter
	LockoutsTotal   prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	loginTotal, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_total",
		Help: "Login attempts by result",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	refreshTotal, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Access token refreshes by result",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	logoutTotal, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logout_total",
		Help: "Completed logouts",
	}))
	if err != nil {
		return nil, err
	}
	lockoutsTotal, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after too many failed passwords",
	}))
	if err != nil {
		return nil, err
	}
	requestDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		LoginTotal:      loginTotal,
		RefreshTotal:    refreshTotal,
		LogoutTotal:     logoutTotal,
		LockoutsTotal:   lockoutsTotal,
		RequestDuration: requestDuration,
	}, nil
}

// register returns the already registered collector on duplicates so a warm
// serverless instance can rebuild its runtime against the default registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Logout() {
	if m == nil {
		return
	}
	m.LogoutTotal.Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}
