package builtin

import (
	"context"
	"fmt"
	"net/http"

	"mercator-hq/conduit/pkg/hooks"
)

// newWebhook returns the default.webhook handler. Parameters: webhookURL,
// headers (object of strings) and timeout.
func newWebhook(client *http.Client) hooks.HandlerFunc {
	return func(ctx context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
		url, err := stringParam(params, "webhookURL")
		if err != nil {
			return nil, err
		}
		if url == "" {
			return nil, fmt.Errorf("missing webhookURL")
		}
		timeout, err := durationParam(params, "timeout")
		if err != nil {
			return nil, err
		}

		headers := map[string]string{}
		if raw, ok := params["headers"].(map[string]any); ok {
			for k, v := range raw {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("header %q must be a string", k)
				}
				headers[k] = s
			}
		}

		forwarded := make(map[string]any, len(params))
		for k, v := range params {
			if k != "webhookURL" && k != "headers" && k != "timeout" {
				forwarded[k] = v
			}
		}

		w := &hooks.Webhook{URL: url, Headers: headers, Timeout: timeout, Client: client}
		return w.Call(ctx, hc, forwarded, event)
	}
}
