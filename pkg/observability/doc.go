/*
Package observability provides tools for monitoring the journey engine.

Metrics registers Prometheus collectors and exposes them as lifecycle hooks,
so the engine reports transitions, interventions, intent resolution and
rejected operations without knowing about Prometheus.
*/
package observability
