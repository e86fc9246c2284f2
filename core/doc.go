// Package core contains the canonical webhook pipeline contracts and
// entities. Stage packages (signature, idempotency, dispatch, retry, audit)
// and adapters depend on this package; core must not depend on any of them.
package core
