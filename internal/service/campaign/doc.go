// Package campaign turns campaigns into queued messages.
//
// The Enqueuer resolves a campaign's recipients, renders one message per
// recipient with tracking applied, and records the batch in a single store
// transaction. Service wraps it with the operator actions that start,
// schedule, or retry sends.
//
// Repository implementations live in repository/postgres/.
package campaign
