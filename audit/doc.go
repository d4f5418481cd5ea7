// Package audit reconciles billed shipping against the seller's truth
// table. An Engine walks identity, recent orders and their shipments, joins
// every line item to its TruthRecord by SKU and emits AuditRecords; a
// CostModel turns each match into a discrepancy estimate.
package audit
