package telemetry

import "strconv"

// ChatTags returns standard tags for a chat turn span.
func ChatTags(session, model string) map[string]string {
	return map[string]string{
		"operation": "chat",
		"session":   session,
		"model":     model,
	}
}

// LLMCallTags returns standard tags for an LLM call span.
func LLMCallTags(model string, inputTokens, outputTokens int) map[string]string {
	return map[string]string{
		"model":         model,
		"input_tokens":  strconv.Itoa(inputTokens),
		"output_tokens": strconv.Itoa(outputTokens),
	}
}

// ClassifyTags returns standard tags for a web-decision classification span.
func ClassifyTags(model string) map[string]string {
	return map[string]string{
		"operation": "classify",
		"model":     model,
	}
}

// SearchTags returns standard tags for a web search span.
func SearchTags(source string) map[string]string {
	return map[string]string{
		"operation": "search",
		"source":    source,
	}
}

// AnalysisTags returns standard tags for a file analysis span.
func AnalysisTags(fileType, model string) map[string]string {
	return map[string]string{
		"operation": "analyze",
		"type":      fileType,
		"model":     model,
	}
}
