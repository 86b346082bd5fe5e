// Package domain defines the core business types for the campaign delivery engine.
//
// Types in this package are pure value objects with no behavior beyond simple
// state checks, no database dependencies, and no HTTP concerns. They are the
// shared language between the enqueuer, the workers, and the repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
