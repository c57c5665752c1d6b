// Package database builds verified store handles for the mirror sinks:
// a pgx connection pool for PostgreSQL and a client for MongoDB. Connection
// strings are assembled here so credentials with special characters survive
// URL encoding.
package database
