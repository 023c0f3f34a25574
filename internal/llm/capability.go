// Package llm routes chat requests across configured endpoints with
// capability matching, health tracking, retries and failover.
package llm

import (
	"sort"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// Capability is a boolean predicate on endpoints.
type Capability string

const (
	CapText     Capability = "text"
	CapVision   Capability = "vision"
	CapVideo    Capability = "video"
	CapAudio    Capability = "audio"
	CapPDF      Capability = "pdf"
	CapTools    Capability = "tools"
	CapThinking Capability = "thinking"
)

// mediaCaps are the capabilities eligible for soft degradation: a request
// that needs one of these but has no matching endpoint gets its blocks
// stripped to placeholders instead of failing.
var mediaCaps = []Capability{CapVision, CapVideo, CapAudio, CapPDF}

// CapabilitySet is a small set of capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from string slugs, ignoring unknown ones.
func NewCapabilitySet(slugs []string) CapabilitySet {
	set := CapabilitySet{}
	for _, s := range slugs {
		switch c := Capability(s); c {
		case CapText, CapVision, CapVideo, CapAudio, CapPDF, CapTools, CapThinking:
			set[c] = true
		}
	}
	return set
}

// Contains reports whether every capability in other is present.
func (s CapabilitySet) Contains(other CapabilitySet) bool {
	for c := range other {
		if !s[c] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = true
	}
	return out
}

// Slugs returns the sorted string form, for logging.
func (s CapabilitySet) Slugs() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// RequiredCapabilities computes the capability set a request needs: text
// always, tools when tool definitions are present, one media capability per
// content-block kind found, and thinking when the caller asks for it.
func RequiredCapabilities(req *Request) CapabilitySet {
	required := CapabilitySet{CapText: true}
	if len(req.Tools) > 0 {
		required[CapTools] = true
	}
	if req.Thinking {
		required[CapThinking] = true
	}
	for _, msg := range req.Messages {
		for _, block := range msg.Blocks {
			switch block.(type) {
			case models.ImageBlock:
				required[CapVision] = true
			case models.VideoBlock:
				required[CapVideo] = true
			case models.AudioBlock:
				required[CapAudio] = true
			case models.DocumentBlock:
				required[CapPDF] = true
			}
		}
	}
	return required
}
