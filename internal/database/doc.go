// Package database provides the TimescaleDB connection pool and schema used
// to record accepted price samples.
package database
