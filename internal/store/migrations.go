package store

import "embed"

// Migrations embeds the golang-migrate SQL files applied at process
// startup (SPEC_FULL.md §3 "Persistence"): one pair of .up.sql/.down.sql
// per schema revision.
//
//go:embed migrations/*.sql
var Migrations embed.FS
