package sqlstore

import (
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/idempotency"
)

var (
	_ idempotency.Store = (*IdempotencyStore)(nil)
	_ core.AuditSink    = (*AuditStore)(nil)
)
