// Package websearch decides when a chat message needs live web data
// and fetches grounding context for it from Wikipedia.
package websearch

import "github.com/parleyhq/parley/internal/persona"

// BuildContext produces the web-mode preamble that goes ahead of the
// user's question. With results it carries the scraping rules plus the
// tagged sources; without it carries the unavailable notice so the
// model admits the gap instead of improvising.
func BuildContext(results string) string {
	if results == "" {
		return persona.WebUnavailableNotice() + "\n"
	}
	return persona.WebScrapingRules() + "\n\n<WEB_SEARCH_RESULTS>\n" + results + "\n</WEB_SEARCH_RESULTS>\n"
}
