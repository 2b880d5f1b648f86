// Package events defines the domain events emitted on the event bus.
//
// Available event types:
//   - MissionTransitioned: a mission changed status
//   - DispatchAttempted: the dispatch engine evaluated a mission
//   - JobFinished: a queued job reached a terminal or retry state
//   - SessionChanged: a realtime session connected or disconnected
package events
