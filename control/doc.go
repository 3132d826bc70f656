// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime observability for the endpoint registry: Prometheus metrics,
// structured logger construction and named debug probes.
//
// A nil *Metrics is valid and records nothing.
package control
