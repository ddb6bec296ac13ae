package crypto

// summaryLimit is the maximum number of runes returned un-truncated.
const summaryLimit = 100

// truncationMarker is appended whenever diagnosis text is cut short.
const truncationMarker = "..."

// diagnosis sentence terminators, including full-width equivalents.
var terminators = map[rune]bool{
	'.': true, ',': true, '\n': true,
	'。': true, '、': true, '，': true,
}

// SummarizeDiagnosis produces the restricted projection of diagnosis text.
// Tie-break order: text of at most 100 runes is returned unchanged; else the
// text is cut after the first sentence terminator within the first 100
// runes; else hard-cut at 100 runes. Cut output always carries the marker.
func SummarizeDiagnosis(text string) string {
	runes := []rune(text)
	if len(runes) <= summaryLimit {
		return text
	}
	for i := 0; i < summaryLimit; i++ {
		if terminators[runes[i]] {
			return string(runes[:i+1]) + truncationMarker
		}
	}
	return string(runes[:summaryLimit]) + truncationMarker
}
