/*
Package health runs periodic health checks for CityPulse components and
publishes the results to the component registry in pkg/metrics, which backs
the /health and /ready endpoints.

# Architecture

	┌──────────────────────────── Monitor ───────────────────────────┐
	│  every Interval, each check bounded by Timeout                 │
	│                                                                │
	│   "storage" ──► FuncChecker(store.AlertCounts)                 │
	│   "broker"  ──► FuncChecker(!broker.Closed())                  │
	│   "nats"    ──► FuncChecker(bridge.Check)                      │
	│                        │                                       │
	│                        ▼                                       │
	│                 Status.Update(result)                          │
	│                 unhealthy after Retries consecutive failures   │
	│                        │                                       │
	└────────────────────────┼───────────────────────────────────────┘
	                         ▼
	           metrics.UpdateComponent(name, healthy, message)

A single failed check does not flip a component: Status only reports
unhealthy after Retries consecutive failures and recovers on the first
success.

HTTPChecker checks a running server from outside, for example from the
"citypulse health" command used as a container health check:

	result := health.NewHTTPChecker("http://localhost:8000/ready").Check(ctx)
	if !result.Healthy {
		os.Exit(1)
	}
*/
package health
