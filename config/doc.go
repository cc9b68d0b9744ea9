// Package config loads the trafficstreams daemon configuration.
//
// Configuration is layered: Defaults, then every file added with AddLayer (JSON, or
// YAML by .yaml/.yml extension), then environment variables. A later layer only
// overrides the keys it names; lists replace the earlier list wholesale.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations are written as strings ("3s", "1m", "14d") or nanosecond counts.
//
// # Environment overrides
//
// With the TRAFFICSTREAMS_ prefix:
//
//	STREAM_BASE_URL, STREAM_TRANSPORT, STREAM_RETRY_INTERVAL, STREAM_MAX_RETRIES
//	NATS_URLS (comma separated), NATS_USERNAME, NATS_PASSWORD, NATS_TOKEN
//	RELAY_ENABLED, METRICS_PORT
//
// # Validation
//
// Validate returns an error wrapping errors.ErrInvalidConfig that names the first
// offending key. SafeConfig guards a validated config for concurrent readers and only
// accepts valid replacements.
package config
