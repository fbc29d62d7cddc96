// Package extractor turns page markup into candidate event records.
//
// It locates schema.org JSON-LD blocks (<script type="application/ld+json">), decodes each
// one independently, picks out the entities typed as events and flattens the fields the
// store cares about. A malformed block or an incomplete event is logged and skipped; the
// extractor itself never fails.
package extractor
