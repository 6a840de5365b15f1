// Package domain defines the core business types for the campaign dispatch
// engine: campaigns, sequence steps, recipients, messages, and mailboxes.
//
// Types in this package are value objects with no database or HTTP concerns.
// They are the shared language between the scanner, the advancer, the
// delivery worker, and the store.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
//
// Every row read from the store passes through a Validate method before any
// business logic runs; a row that fails validation is rejected with
// ErrValidation and only that item's processing fails.
package domain
