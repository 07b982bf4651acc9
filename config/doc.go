// Package config loads vatdata process configuration.
//
// Configuration is assembled in layers: built-in defaults, then each file
// added with AddLayer (JSON or YAML, chosen by extension), then environment
// variables with the VATDATA_ prefix. Later layers only override the keys
// they set.
//
//	loader := config.NewLoader()
//	loader.AddLayer("vatdata.yaml")
//	loader.AddLayer("local.json")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Durations may be written as strings ("2s", "500ms") in either format.
//
// # Environment overrides
//
//	VATDATA_UNIT_NAME, VATDATA_UNIT_CACHE_SIZE
//	VATDATA_STORAGE_BACKEND, VATDATA_STORAGE_PATH, VATDATA_STORAGE_BUCKET,
//	VATDATA_STORAGE_MAX_VALUE_SIZE
//	VATDATA_NATS_URL, VATDATA_NATS_USERNAME, VATDATA_NATS_PASSWORD, VATDATA_NATS_TOKEN
//	VATDATA_LOG_LEVEL, VATDATA_LOG_FORMAT
//	VATDATA_METRICS_ENABLED, VATDATA_METRICS_ADDR
//
// Validation failures are classified as invalid errors wrapping
// errors.ErrInvalidConfig.
package config
