// Package observability provides structured logging and metrics for the
// DSP front door.
//
// This package implements:
//   - zap logger construction from level and format settings
//   - Prometheus collectors for HTTP traffic, the manifest cache, manifest
//     fetches, provider loads and inference calls
//   - a no-op Metrics implementation for tests and disabled metrics
package observability
