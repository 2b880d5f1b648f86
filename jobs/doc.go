// Package jobs contains the queue handlers performing the service's
// background work and the cron scheduler enqueuing the recurring ones.
package jobs
