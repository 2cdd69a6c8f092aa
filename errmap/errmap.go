// Package errmap turns technical errors into messages for end users.
package errmap

import (
	"context"
	"errors"
	"regexp"
)

// DefaultFallback is shown when no rule matches.
const DefaultFallback = "An unexpected error occurred."

const cancelled = "The operation was cancelled by the user."

type rule struct {
	pattern *regexp.Regexp
	message string
	// cancel also matches errors wrapping context.Canceled.
	cancel bool
}

// First match wins.
var rules = []rule{
	{regexp.MustCompile(`(?i)password|protected|encrypted`),
		"This PDF is password-protected. Please remove the password and try again.", false},
	{regexp.MustCompile(`(?i)not a valid PDF|invalid PDF|corrupt`),
		"The file appears to be corrupted or is not a valid PDF document.", false},
	{regexp.MustCompile(`(?i)out of memory|OOM|buffer`),
		"The file is too large or complex for the available memory. Try a smaller file.", false},
	{regexp.MustCompile(`(?i)File System Access API|showSaveFilePicker`),
		"The save request was blocked or direct saving is not supported. Check your permissions.", false},
	{regexp.MustCompile(`(?i)fetch|network|CDN`),
		"A network error occurred while loading a component. Please check your connection and retry.", false},
	{regexp.MustCompile(`(?i)AbortError`), cancelled, true},
	{regexp.MustCompile(`(?i)quota|full|storage`),
		"Storage is full. Please clear some space and try again.", false},
}

// Map returns the user message for err. Without a matching rule it returns
// fallback, or the error text itself when fallback is empty.
func Map(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return MapText(err.Error(), fallback, errors.Is(err, context.Canceled))
}

// Message is Map with DefaultFallback.
func Message(err error) string { return Map(err, DefaultFallback) }

// MapText maps a bare error message. canceled marks text as coming from a
// cancelled operation.
func MapText(text, fallback string, canceled bool) string {
	for _, r := range rules {
		if r.pattern.MatchString(text) || r.cancel && canceled {
			return r.message
		}
	}
	if fallback != "" {
		return fallback
	}
	return text
}
