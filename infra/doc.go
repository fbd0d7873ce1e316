// Package infra holds the adapters the engine runs on: the slot stores, the
// YAML registry, the MQTT transport, the metrics sinks, the zerolog logger
// and the Sentry monitor. Adapters implement interfaces declared under core
// and are wired together by the app package.
package infra
