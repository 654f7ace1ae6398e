package config

// DefaultConfigYAML is written by `ghostwriter config init`.
const DefaultConfigYAML = `# Ghostwriter configuration
# Environment variables override any key: GHOSTWRITER_<SECTION>_<KEY>,
# e.g. GHOSTWRITER_LOG_LEVEL=debug.

log:
  level: info        # debug, info, warn, error
  format: auto       # auto, text, json

cache:
  enabled: true
  backend: sqlite    # sqlite, badger, memory
  path: .ghostwriter/cache.db
  default_ttl: 24h   # 0 disables storing
  sweep_interval: 10m

pipeline:
  timeout: 3m
  synthesis_timeout: 90s
  stages:
    - id: security
      timeout: 60s
      backends: [groq, gemini, static]
    - id: runtime
      timeout: 60s
      backends: [groq, gemini, static]
    - id: synthesis
      timeout: 60s
      depends_on: [security, runtime]
      backends: [groq, gemini, template]

backends:
  groq:
    provider: groq
    model: llama-3.3-70b-versatile
    api_key_env: GROQ_API_KEY
    max_tokens: 2048
    temperature: 0.1
    chunk_size: 12000
    rate_limit:
      max_tokens: 30
      refill_rate: 0.5
  gemini:
    provider: gemini
    model: gemini-2.0-flash
    api_key_env: GEMINI_API_KEY
    max_tokens: 2048
    temperature: 0.1
    chunk_size: 30000
    rate_limit:
      max_tokens: 10
      refill_rate: 0.25

delivery:
  sink: github       # github, file
  dir: .ghostwriter/reports
  marker: "<!-- ghostwriter:review -->"

github:
  token_env: GITHUB_TOKEN
  webhook_secret_env: GHOSTWRITER_WEBHOOK_SECRET

server:
  addr: ":8080"
  workers: 4
  queue_size: 64

metrics:
  enabled: true
`
