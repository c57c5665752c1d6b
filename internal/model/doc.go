// Package model defines the shared data types of the mirror pipeline.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - Payloads: raw JSON as received from the server
//   - IDs: uuid.UUID for events, "table:id" strings for records
package model
