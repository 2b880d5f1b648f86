// Package infra holds the adapters behind the core interfaces: MongoDB and
// in-process stores, the Redis cache, the gorilla websocket transport, the
// MQTT bridge, JWT authentication, notification gateways and metrics sinks.
// Core packages never import infra; the app package wires them together.
package infra
