// Package core contains the canonical shipping-audit domain: credentials,
// orders, shipments, truth records and audit records, the error taxonomy
// shared by every adapter, and the configuration contract. Adapters depend on
// core; core must not depend on transport, storage or marketplace adapters.
package core
