package config

// DefaultYAML is written by `tingshuo config` when no file exists yet.
const DefaultYAML = `# log level: debug, info, warn or error
log_level: "info"

# Synthesized audio cache
cache:
  # disk (zstd files), sqlite or memory
  backend: "disk"
  # dir: "~/.cache/tingshuo"
  max_entries: 100
  ttl: "168h"
  # 0 disables compression on the disk backend
  compression_level: 3

# Provider fallback
synthesis:
  # order overrides the per-provider priorities
  # order: ["google", "azure", "gtts", "espeak", "native"]
  locale: "zh-CN"
  # inject pinyin tone markup for providers that accept SSML
  markup: true
  provider_timeout: "20s"
  # skip a provider for cooldown after max_failures consecutive errors
  max_failures: 3
  cooldown: "30s"

# Google Cloud Text-to-Speech; credentials from GOOGLE_APPLICATION_CREDENTIALS
google:
  enabled: true
  priority: 10
  timeout: "15s"

# Azure Speech; key and region from AZURE_SPEECH_KEY and AZURE_SPEECH_REGION
azure:
  enabled: true
  priority: 20
  timeout: "15s"
  requests_per_second: 5

# gTTS command line (pip install gTTS)
gtts:
  enabled: true
  priority: 30
  binary: "gtts-cli"
  timeout: "30s"
  requests_per_minute: 50

# eSpeak NG, plays through the OS and cannot be cached
espeak:
  enabled: true
  priority: 40

# say on macOS, spd-say on Linux
native:
  enabled: true
  priority: 50

playback:
  # oto or mock (silent)
  device: "oto"
  progress_interval: "100ms"
  min_rate: 0.5
  max_rate: 2.0
  sample_rate: 44100
  channels: 2

recognition:
  # deepgram, whisper or none
  backend: "deepgram"
  grace: "250ms"
  default_duration: "5s"
  # confidence multiplier when a partial stands in for a final result
  partial_penalty: 0.5
  sample_rate: 16000
  pass_threshold: 0.8

# whisper.cpp on device
whisper:
  binary: "whisper-cli"
  # model: "~/.local/share/whisper/ggml-base.bin"

# streaming recognition; key from DEEPGRAM_API_KEY
deepgram:
  model: "nova-2"
  dial_timeout: "10s"

metrics:
  # addr: "127.0.0.1:9464"
`
