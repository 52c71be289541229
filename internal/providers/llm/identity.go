package llm

import "strings"

// Identity is the stable signature of an embedding space:
// provider:model, plus @endpoint when one was configured.
func Identity(provider, model, endpoint string) string {
	id := strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(model)
	if endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/"); endpoint != "" {
		id += "@" + endpoint
	}
	return id
}
