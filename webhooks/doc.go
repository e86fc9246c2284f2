// Package webhooks assembles the ingestion pipeline: signature verification,
// duplicate absorption, retry-bounded dispatch to reconciliation handlers,
// and the HTTP surface the payment provider delivers to.
package webhooks
