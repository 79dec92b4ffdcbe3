// Package source provides the task record sources reports are computed from.
//
// SQLSource reads the task table written by the ingestion pipeline with a single
// range query on the start time. MemorySource holds records in memory and serves
// tests and local runs without a database.
package source
