package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Metrics holds in-process counters for the caller service.
type Metrics struct {
	mu sync.RWMutex

	// Call lifecycle
	CallsCreated   int64
	CallsFinalized int64
	ActiveSessions int64
	CallsByStatus  map[string]int64
	BargeIns       int64

	// Remote service calls (dial, transcribe, generate, synthesize, classify)
	ServiceCalls   map[string]int64
	ServiceErrors  map[string]int64
	ServiceLatency map[string][]time.Duration

	// Circuit breaker
	CircuitBreakerState    map[string]string
	CircuitBreakerFailures map[string]int64

	StartTime time.Time
}

var globalMetrics = &Metrics{
	CallsByStatus:          make(map[string]int64),
	ServiceCalls:           make(map[string]int64),
	ServiceErrors:          make(map[string]int64),
	ServiceLatency:         make(map[string][]time.Duration),
	CircuitBreakerState:    make(map[string]string),
	CircuitBreakerFailures: make(map[string]int64),
	StartTime:              time.Now(),
}

// CallCreated records a new call session.
func CallCreated() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.CallsCreated++
	globalMetrics.ActiveSessions++
}

// CallFinalized records a finalized call session with its terminal status.
func CallFinalized(status string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.CallsFinalized++
	globalMetrics.CallsByStatus[status]++
	if globalMetrics.ActiveSessions > 0 {
		globalMetrics.ActiveSessions--
	}
}

// BargeIn records one caller interruption of assistant playback.
func BargeIn() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.BargeIns++
}

// RecordServiceCall records one remote call (dial, transcribe, generate, ...).
func RecordServiceCall(service string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ServiceCalls[service]++
	if !success {
		globalMetrics.ServiceErrors[service]++
	}

	// Keep only last 100 latency measurements per service
	if len(globalMetrics.ServiceLatency[service]) >= 100 {
		globalMetrics.ServiceLatency[service] = globalMetrics.ServiceLatency[service][1:]
	}
	globalMetrics.ServiceLatency[service] = append(globalMetrics.ServiceLatency[service], latency)
}

// UpdateCircuitBreaker updates circuit breaker metrics
func UpdateCircuitBreaker(service, state string, failures int64) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.CircuitBreakerState[service] = state
	globalMetrics.CircuitBreakerFailures[service] = failures
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	serviceAvgLatency := make(map[string]float64)
	for service, latencies := range globalMetrics.ServiceLatency {
		if len(latencies) > 0 {
			var sum time.Duration
			for _, l := range latencies {
				sum += l
			}
			serviceAvgLatency[service] = sum.Seconds() / float64(len(latencies))
		}
	}

	statusCounts := make(map[string]int64, len(globalMetrics.CallsByStatus))
	for k, v := range globalMetrics.CallsByStatus {
		statusCounts[k] = v
	}

	uptime := time.Since(globalMetrics.StartTime)

	return map[string]interface{}{
		"uptime_seconds": uptime.Seconds(),
		"calls": map[string]interface{}{
			"created":         globalMetrics.CallsCreated,
			"finalized":       globalMetrics.CallsFinalized,
			"active_sessions": globalMetrics.ActiveSessions,
			"by_status":       statusCounts,
			"barge_ins":       globalMetrics.BargeIns,
		},
		"services": map[string]interface{}{
			"calls":               copyCounts(globalMetrics.ServiceCalls),
			"errors":              copyCounts(globalMetrics.ServiceErrors),
			"latency_avg_seconds": serviceAvgLatency,
		},
		"circuit_breakers": map[string]interface{}{
			"state":    copyStates(globalMetrics.CircuitBreakerState),
			"failures": copyCounts(globalMetrics.CircuitBreakerFailures),
		},
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStates(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func GetPrometheusMetrics() string {
	m := GetMetrics()
	var output string

	output += "# HELP caller_uptime_seconds Service uptime in seconds\n"
	output += "# TYPE caller_uptime_seconds gauge\n"
	output += fmt.Sprintf("caller_uptime_seconds %.2f\n", m["uptime_seconds"].(float64))

	calls := m["calls"].(map[string]interface{})
	output += "# HELP caller_calls_total Call sessions created and finalized\n"
	output += "# TYPE caller_calls_total counter\n"
	output += fmt.Sprintf("caller_calls_total{stage=\"created\"} %d\n", calls["created"].(int64))
	output += fmt.Sprintf("caller_calls_total{stage=\"finalized\"} %d\n", calls["finalized"].(int64))

	output += "# HELP caller_active_sessions Currently active call sessions\n"
	output += "# TYPE caller_active_sessions gauge\n"
	output += fmt.Sprintf("caller_active_sessions %d\n", calls["active_sessions"].(int64))

	output += "# HELP caller_barge_ins_total Caller interruptions of assistant playback\n"
	output += "# TYPE caller_barge_ins_total counter\n"
	output += fmt.Sprintf("caller_barge_ins_total %d\n", calls["barge_ins"].(int64))

	output += "# HELP caller_calls_by_status_total Finalized calls per terminal status\n"
	output += "# TYPE caller_calls_by_status_total counter\n"
	for status, count := range calls["by_status"].(map[string]int64) {
		output += fmt.Sprintf("caller_calls_by_status_total{status=\"%s\"} %d\n", status, count)
	}

	services := m["services"].(map[string]interface{})
	output += "# HELP caller_service_calls_total Remote calls per service\n"
	output += "# TYPE caller_service_calls_total counter\n"
	for service, count := range services["calls"].(map[string]int64) {
		output += fmt.Sprintf("caller_service_calls_total{service=\"%s\"} %d\n", service, count)
	}

	output += "# HELP caller_service_errors_total Remote call errors per service\n"
	output += "# TYPE caller_service_errors_total counter\n"
	for service, count := range services["errors"].(map[string]int64) {
		output += fmt.Sprintf("caller_service_errors_total{service=\"%s\"} %d\n", service, count)
	}

	return output
}
