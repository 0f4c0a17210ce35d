// Package extract is the pure per-marketplace data-extraction function the
// executor calls after a successful fetch. Per-marketplace HTML/JSON
// parsing is explicitly out of scope (§1 Non-goals: "the product data
// extractor is a pure function extract(symbol, bytes) -> ProductData?
// reused from the repo"); this package provides the call-compatible stub
// the executor depends on, returning the fetched payload's presence as the
// only signal until a real per-marketplace parser is wired in.
package extract

import "github.com/marketorder/gateway/internal/model"

// Data is the placeholder ProductData shape: whatever a real extractor
// would produce is opaque to the scheduling subsystem, which only needs to
// know whether extraction succeeded (non-nil) or found nothing (nil).
func Data(symbol model.Symbol, raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return map[string]interface{}{"symbol": string(symbol), "bytes": len(raw)}
}
