// Package sentry provides data scrubbing utilities for Sentry events
// to ensure identity tokens are not transmitted to the error tracking service.
package sentry

import (
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

// sensitiveKeys are field names that may contain sensitive data in tags,
// breadcrumb metadata or query strings.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"secret":        true,
	"jwt":           true,
	"authorization": true,
	"cookie":        true,
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers and query parameters, strips request bodies,
// and scrubs tags.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[header] {
				event.Request.Headers[header] = filtered
			}
		}
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
		if i := strings.IndexByte(event.Request.URL, '?'); i >= 0 {
			event.Request.URL = event.Request.URL[:i+1] + scrubQuery(event.Request.URL[i+1:])
		}
		// Request bodies may carry identity tokens
		event.Request.Data = ""
	}

	for key := range event.Tags {
		if sensitiveKeys[key] {
			event.Tags[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if sensitiveKeys[key] {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return filtered
	}
	changed := false
	for key := range values {
		if sensitiveKeys[strings.ToLower(key)] {
			values.Set(key, filtered)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}
