// Package factory provides a small generic registry used to instantiate
// pluggable modules from configuration. A module is a type string plus a map
// of raw settings; factories decode the settings into typed structs and
// return the implementation. Metrics sinks and notification channels are
// built this way.
package factory
