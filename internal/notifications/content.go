// Package notifications delivers rendered report content to recipients
// over email and chat webhooks.
package notifications

import (
	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/renderer"
)

// Content is a channel-independent notification payload. Each channel
// formats it according to its own rules.
type Content struct {
	// Name is the notification title (email subject, chat message title).
	Name string

	// Description is optional user-provided HTML shown above the artifact.
	Description string

	// URL links back to the source chart or dashboard.
	URL string

	// Text carries a plain message instead of an artifact, used for
	// failure notices.
	Text string

	// Screenshot, CSV and Table carry the produced artifact; at most one
	// is set.
	Screenshot []byte
	CSV        []byte
	Table      *renderer.Table
}

// FromArtifact builds delivery content around a produced artifact.
func FromArtifact(name, description, url string, artifact *artifacts.Artifact) *Content {
	content := &Content{
		Name:        name,
		Description: description,
		URL:         url,
	}

	if artifact != nil {
		content.Screenshot = artifact.Screenshot
		content.CSV = artifact.CSV
		content.Table = artifact.Table
	}

	return content
}

// ForError builds a plain-text failure notice.
func ForError(name, message string) *Content {
	return &Content{
		Name: name,
		Text: message,
	}
}
