// Package models contains GORM persistence models for the split transfer tables.
// Models carry all ORM tags and convert to and from domain types with ToDomain/FromDomain,
// keeping the domain layer free of database concerns.
//
// Tables:
//   - payments: confirmed payments with precomputed recipient shares (payment.go)
//   - split_transfers: one ledger row per payment and recipient (transfer.go)
//   - split_transfer_status_history: append-only status audit trail (transfer.go)
package models
