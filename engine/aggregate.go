package engine

import (
	"fmt"
	"sort"
)

// Aggregate projects the results back onto the expansion order. A document of order with no
// result, or a result whose pages do not form 1..n, is an *InvariantViolation.
func Aggregate(order []PdfDocumentRef, results map[PdfDocumentRef]DocumentResult) ([]DocumentResult, error) {
	documents := make([]DocumentResult, 0, len(order))
	var missing []string
	for _, ref := range order {
		result, ok := results[ref]
		if !ok {
			missing = append(missing, ref.RelPath)
			continue
		}
		if result.OK() {
			pages := append([]PageArtifact(nil), result.Pages...)
			sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
			for i, page := range pages {
				if page.Index != i+1 {
					return nil, &InvariantViolation{Detail: fmt.Sprintf("document %s has page %d at position %d", ref.RelPath, page.Index, i+1)}
				}
			}
			result.Pages = pages
		} else {
			result.Pages = nil
		}
		documents = append(documents, result)
	}
	if len(missing) > 0 {
		return nil, &InvariantViolation{Missing: missing}
	}
	return documents, nil
}
