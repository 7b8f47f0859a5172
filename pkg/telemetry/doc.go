// Package telemetry provides observability for the requestor session:
// structured logging (zerolog), distributed tracing (OpenTelemetry) and
// Prometheus metrics derived from the session event bus.
package telemetry
