/*
Package config loads objectftp configuration.

Configuration is layered, later sources overriding earlier ones:

	NewDefault()            compiled-in defaults
	LoadFromFile(path)      YAML file
	LoadFromEnv()           OBJECTFTP_* environment variables
	command-line flags      applied by cmd/objectftp

followed by Validate.

# Example

	global:
	  log_level: INFO
	  bind_address: 0.0.0.0
	  port: 2021
	  max_cons_per_ip: 8
	  split_large_files_mb: 100
	storage:
	  backend: swift
	  auth_url: https://keystone.example.com/v3
	  swift:
	    auth_version: 3
	    tenant_separator: "."
	    region: RegionOne
	cache:
	  shared: memcache
	  memcache_servers: ["10.0.0.5:11211"]
	  listing_ttl: 10s
	  token_ttl: 24h
	metrics:
	  enabled: true
	  port: 9102

# Environment

	OBJECTFTP_LOG_LEVEL, OBJECTFTP_LOG_FILE, OBJECTFTP_LOG_FORMAT
	OBJECTFTP_BIND_ADDRESS, OBJECTFTP_PORT, OBJECTFTP_API_TIMEOUT
	OBJECTFTP_MAX_CONS_PER_IP, OBJECTFTP_SPLIT_LARGE_FILES
	OBJECTFTP_BACKEND, OBJECTFTP_AUTH_URL, OBJECTFTP_AUTH_ATTEMPTS
	OBJECTFTP_AUTH_VERSION
	OBJECTFTP_S3_ENDPOINT, OBJECTFTP_S3_REGION, OBJECTFTP_SQLITE_PATH
	OBJECTFTP_MEMCACHE (comma-separated, implies shared: memcache)
	OBJECTFTP_SHARED_CACHE, OBJECTFTP_LISTING_TTL
	OBJECTFTP_METRICS_ENABLED, OBJECTFTP_METRICS_PORT

A malformed numeric or duration variable is an error rather than being ignored.
*/
package config
