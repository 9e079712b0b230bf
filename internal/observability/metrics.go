// Package observability provides Prometheus metrics for the account
// workflows and the /metrics endpoint that exposes them.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the custom counters recorded by the auth workflows and the
// notification dispatcher. A nil *Metrics records nothing, so tests and
// tools can pass nil.
type Metrics struct {
	Registrations *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Resets        *prometheus.CounterVec
	Logins        *prometheus.CounterVec
	Dispatches    *prometheus.CounterVec
}

// NewRegistry creates a registry with the standard Go and process
// collectors. A dedicated registry keeps the global one unpolluted.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates and registers the bidhouse metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_registrations_total",
				Help: "Registration attempts by role, path (create or reuse) and outcome",
			},
			[]string{"role", "path", "outcome"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_registration_compensations_total",
				Help: "Registrations undone after a failed code email, by path and result",
			},
			[]string{"path", "result"},
		),
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_verifications_total",
				Help: "Registration code verifications by outcome",
			},
			[]string{"outcome"},
		),
		Resets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_password_resets_total",
				Help: "Password reset steps by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_logins_total",
				Help: "Sign-in attempts by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidhouse_email_dispatches_total",
				Help: "Notification emails by template and status",
			},
			[]string{"template", "status"},
		),
	}

	reg.MustRegister(m.Registrations, m.Compensations, m.Verifications, m.Resets, m.Logins, m.Dispatches)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registration counts a sign-up attempt.
func (m *Metrics) Registration(role, path, outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(role, path, outcome).Inc()
}

// Compensation counts an undo after a failed dispatch.
func (m *Metrics) Compensation(path string, ok bool) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(path, resultLabel(ok)).Inc()
}

// Verification counts a code verification.
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

// Reset counts a password reset step.
func (m *Metrics) Reset(phase, outcome string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(phase, outcome).Inc()
}

// Login counts a sign-in attempt.
func (m *Metrics) Login(role, outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(role, outcome).Inc()
}

// Dispatch counts a notification email.
func (m *Metrics) Dispatch(template string, ok bool) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(template, resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
