package builtin

import (
	"fmt"
	"net/http"

	"mercator-hq/conduit/pkg/hooks"
)

// Register adds every built-in plugin to registry.
func Register(registry *hooks.Registry) error {
	plugins := []hooks.Plugin{
		hooks.NewPlugin(meta("regexMatch", "Regex Match", "Checks text against a regular expression"), regexMatch),
		hooks.NewPlugin(meta("contains", "Contains", "Checks text for any, all or none of a list of words"), contains),
		hooks.NewPlugin(meta("wordCount", "Word Count", "Checks that the word count is within bounds"), wordCount),
		hooks.NewPlugin(meta("characterCount", "Character Count", "Checks that the character count is within bounds"), characterCount),
		hooks.NewPlugin(meta("modelWhitelist", "Model Whitelist", "Allows only the listed models", hooks.EventBeforeRequest), modelWhitelist),
		hooks.NewPlugin(meta("validJSON", "Valid JSON", "Checks that the text is valid JSON"), validJSON),
		hooks.NewPlugin(meta("webhook", "Webhook", "Delegates the verdict to an external service"), newWebhook(&http.Client{})),
	}

	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register built-in plugins: %w", err)
		}
	}
	return nil
}

func meta(id, name, description string, events ...hooks.EventType) hooks.Metadata {
	return hooks.Metadata{
		ID:          id,
		Collection:  hooks.BuiltinCollection,
		Name:        name,
		Description: description,
		Events:      events,
	}
}
