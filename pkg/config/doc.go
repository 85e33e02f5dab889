/*
Package config loads CityPulse configuration from YAML.

Load starts from Default and overlays the file, so a file only needs the keys
it changes. Durations use Go duration strings:

	server:
	  addr: ":8000"
	collector:
	  seed: 42
	  traffic_interval: 3s
	  sensor_count: 20
	analytics:
	  horizon: 60m
	  anomaly_threshold: 3.0
	nats:
	  url: nats://localhost:4222

Command-line flags of the serve command override file values.
*/
package config
