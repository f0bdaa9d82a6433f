package metrics

import (
	"regexp"
	"time"
)

var uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.safeExecute("RecordHTTPRequest", func() {
		endpoint = normalizeEndpoint(endpoint)
		m.HTTPRequestsTotal.WithLabelValues(method, endpoint, categorizeStatus(statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	})
}

func (m *Metrics) ConnectionOpened() {
	m.safeExecute("ConnectionOpened", func() { m.WebSocketConnections.Inc() })
}

func (m *Metrics) ConnectionClosed() {
	m.safeExecute("ConnectionClosed", func() { m.WebSocketConnections.Dec() })
}

func (m *Metrics) RealtimeEvent(event string) {
	m.safeExecute("RealtimeEvent", func() { m.RealtimeEventsTotal.WithLabelValues(event).Inc() })
}

func (m *Metrics) RealtimeDrop(reason string) {
	m.safeExecute("RealtimeDrop", func() { m.RealtimeDropsTotal.WithLabelValues(reason).Inc() })
}

func (m *Metrics) MessageAppended(kind string) {
	m.safeExecute("MessageAppended", func() { m.MessagesAppendedTotal.WithLabelValues(kind).Inc() })
}

// Download records a download outcome: served, redirected, forbidden, gone, cancelled.
func (m *Metrics) Download(outcome string) {
	m.safeExecute("Download", func() { m.DownloadsTotal.WithLabelValues(outcome).Inc() })
}

func (m *Metrics) SweepFinished(deleted, failed int, duration time.Duration) {
	m.safeExecute("SweepFinished", func() {
		m.SweepDeletedTotal.Add(float64(deleted))
		m.SweepFailedTotal.Add(float64(failed))
		m.SweepDuration.Observe(duration.Seconds())
	})
}

func (m *Metrics) InvitationTransition(status string) {
	m.safeExecute("InvitationTransition", func() { m.InvitationsTotal.WithLabelValues(status).Inc() })
}

// ExternalCall records a call to the blob store, token issuer or notification sink.
func (m *Metrics) ExternalCall(service, operation string, duration time.Duration, err error) {
	m.safeExecute("ExternalCall", func() {
		m.ExternalCallDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
		if err != nil {
			m.ExternalCallErrors.WithLabelValues(service, operation).Inc()
		}
	})
}

// categorizeStatus converts status code to category (2xx, 3xx, 4xx, 5xx)
func categorizeStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func normalizeEndpoint(endpoint string) string {
	return uuidPattern.ReplaceAllString(endpoint, "{id}")
}

// ShouldSkipEndpoint checks if endpoint should be excluded from metrics
func ShouldSkipEndpoint(path string) bool {
	return path == "/metrics" || path == "/health" || path == "/ping"
}
