package config

// Etcd server hostname
const ETCD_ADDRESS = "etcd.address"

// exposed port for the HTTP API
const API_PORT = "api.port"
const API_IP = "api.ip"

// the area which the node belongs to (used in the node identifier)
const REGISTRY_AREA = "registry.area"

// Logging level (debug, info, warn, error) and format (text, json)
const LOG_LEVEL = "log.level"
const LOG_FORMAT = "log.format"

// function metadata cache: capacity and item expiration (seconds)
const CACHE_SIZE = "cache.size"
const CACHE_ITEM_EXPIRATION = "cache.expiration"

// enables the schedule claim loop on this node (true/false)
const SCHEDULER_ENABLED = "scheduler.enabled"

// interval between two iterations of the claim loop
const SCHEDULER_POLL_INTERVAL = "scheduler.poll.interval"

// interval between two lock refreshes of an outstanding invocation
const SCHEDULER_HEARTBEAT_INTERVAL = "scheduler.heartbeat.interval"

// age after which a lock is considered abandoned and the event can be reclaimed
const SCHEDULER_LOCK_TOLERANCE = "scheduler.lock.tolerance"

// Storage for scheduled events
// Possible values: "etcd", "postgres", "memory"
const EVENT_STORE = "event.store"

// Postgres connection string (event.store = postgres)
const POSTGRES_DSN = "postgres.dsn"

// Storage for asynchronous invocation results
// Possible values: "etcd", "redis"
const RESULTS_STORE = "results.store"

// expiration of an asynchronous result (seconds)
const RESULTS_TTL = "results.ttl"

// Redis address, password and db (results.store = redis)
const REDIS_ADDRESS = "redis.address"
const REDIS_PASSWORD = "redis.password"
const REDIS_DB = "redis.db"

// How workers are spawned
// Possible values: "process", "docker", "inprocess"
const EXECUTOR_FACTORY = "executor.factory"

// Path of the worker binary (executor.factory = process)
const EXECUTOR_BINARY = "executor.binary"

// Worker image (executor.factory = docker)
const EXECUTOR_IMAGE = "executor.image"

// Max duration of a single invocation, including worker start
const EXECUTOR_TIMEOUT = "executor.timeout"

// Memory limit for docker workers (MB)
const EXECUTOR_MEMORY_MB = "executor.memory"

// enable metrics system
const METRICS_ENABLED = "metrics.enabled"

// Enables tracing
const TRACING_ENABLED = "tracing.enabled"

// Custom output file for traces
const TRACING_OUTFILE = "tracing.outfile"

// Prometheus server queried for cluster-wide function statistics
const METRICS_PROMETHEUS_HOST = "metrics.prometheus.host"
const METRICS_PROMETHEUS_PORT = "metrics.prometheus.port"
const METRICS_RETRIEVER_INTERVAL = "metrics.retriever.interval"

// resources available to workers on this node
const POOL_CPUS = "container.pool.cpus"
const POOL_MEMORY_MB = "container.pool.memory"

// number of lifecycle records kept in memory for function statistics
const MONITORING_CAPACITY = "monitoring.capacity"

// routing policy of the load balancer ("const-hash" or "random")
const LOAD_BALANCER_POLICY = "lb.policy"

// interval between two refreshes of the load balancer targets
const LOAD_BALANCER_REFRESH_INTERVAL = "lb.refresh.interval"
