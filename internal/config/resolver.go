package config

import "slices"

// WebhookIDs returns the configured webhook instance ids, sorted so that
// instances are built and logged in a deterministic order.
func WebhookIDs(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Webhooks))
	for id := range cfg.Webhooks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
