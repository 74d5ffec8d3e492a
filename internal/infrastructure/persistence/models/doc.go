// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: BaseModel and AggregateModel shared by every table
//   - payment.go: payments, payment_allocations, customers
//   - obligation.go: invoices, opening_balances, credit_sales
//   - hold.go: integrity_holds
//
// Amounts are decimal(18,2) and calendar days are date columns. The CHECK
// constraints that back the counters live in the SQL migrations.
package models
