// Package db embeds the database schema.
package db

import _ "embed"

// Schema is the idempotent DDL for users, orders and pending orders.
//
//go:embed migrations/001_schema.sql
var Schema string
