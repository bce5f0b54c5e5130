// Package middleware provides HTTP middleware for the pipeline server:
// request IDs, W3C Extended Log Format request logging and Prometheus
// request metrics.
package middleware
