/*
Package collector produces synthetic city data for CityPulse.

The collector runs one periodic worker. Every resolution tick (250ms by
default) it runs each category whose interval has elapsed:

	┌─────────────┬──────────┬──────────────────────────────────────┐
	│ Category    │ Interval │ Output                               │
	├─────────────┼──────────┼──────────────────────────────────────┤
	│ traffic     │ 3s       │ 1..N traffic events  → events        │
	│ weather     │ 5s       │ 1..N weather events  → events        │
	│ social      │ 4s       │ 1..N social events   → events        │
	│ sensors     │ 1s       │ 1 reading per sensor → sensor:<id>   │
	│             │          │ alert events for readings in the top │
	│             │          │ 5% of the kind's range → events      │
	└─────────────┴──────────┴──────────────────────────────────────┘

Sensors are placed within ±0.1° of the configured city center and keep
their kind for the lifetime of the generator.

# Reproducibility

All values and event ids come from one seeded math/rand source. After
Reseed(seed) the records produced by a sequence of Tick(now) calls depend
only on the seed and the tick times, which lets tests assert exact output.

# Failure isolation

Each category is generated under recover: a panic becomes an error that is
logged and counted in citypulse_collector_failures_total, and the remaining
categories of the tick still run. Publish errors are counted the same way
and never stop later ticks.
*/
package collector
