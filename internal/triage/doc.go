// Package triage turns per-room chat message streams into deduplicated
// issue records and rate-limited operator notifications. It defines the
// Poller (cooperative polling loop, daily-cycle bookkeeping), Engine (the
// reusable classify/extract/dedup/alert pipeline), the trigger and dedup
// policies, store interfaces, and domain models.
package triage
