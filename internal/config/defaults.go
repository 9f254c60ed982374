package config

// ProjectConfigDir is the per-project configuration directory.
const ProjectConfigDir = ".leakwatch"

// DefaultConfigYAML is written by `leakwatch init`.
const DefaultConfigYAML = `# leakwatch configuration
#
# Every value can also be set through LEAKWATCH_<SECTION>_<KEY>, for example
# LEAKWATCH_SERVER_ADMIN_TOKEN.

log:
  level: info
  # auto: pretty on a terminal, JSON otherwise
  format: auto

server:
  host: 127.0.0.1
  port: 8089
  # Bearer token for /manage endpoints. Empty trusts every caller.
  admin_token: ""
  cors_origins: []
  read_timeout: 30s
  write_timeout: 5m
  shutdown_timeout: 10s

agent:
  name: file-leak-detector
  # Executable used for attach. Empty means this leakwatch binary.
  runtime: ""
  # Attach socket directory. Empty means the system temp dir.
  socket_dir: ""
  attach_timeout: 30s
  activate_on_start: false
  start_options: ""

guard:
  # Install the host policy at startup. The exit guard used while
  # attaching is always on.
  enabled: true
  deny_read: []
  deny_write: []
  # Executables the host may start, by path or base name. Empty allows all.
  allow_exec: []
  deny_permissions: []

diagnostics:
  enabled: true
  monitor_interval: 30s
  history_size: 120
  fd_threshold_percent: 80
  goroutine_threshold: 10000
  fd_leak_per_hour: 10
  crash_dump_dir: .leakwatch/crashdumps
  max_crash_dumps: 10
  include_stack: true
  include_env: false
  preflight_enabled: true
  min_free_fd_percent: 5
`
