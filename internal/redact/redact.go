// Package redact implements the credential-redacting sink referenced
// throughout the supervisor: a single process-wide registry of secret
// strings (passwords, tokens). The Process Runner applies it to argv
// before argv is logged or stored in a Record; other log fields, captured
// child output, and error details are not passed through it.
//
// Secrets are registered as they are read out of the configuration file
// (internal/config) and are replaced everywhere with a stable placeholder,
// never simply dropped — dropping would make two different redactions look
// identical and complicate debugging, but a stable placeholder at least
// groups them visibly.
package redact

import (
	"strings"
	"sync"
)

const placeholder = "[REDACTED]"

// Sink holds the set of secret substrings to scrub from text.
type Sink struct {
	mu       sync.RWMutex
	secrets  map[string]struct{}
	replacer *strings.Replacer
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{secrets: make(map[string]struct{})}
}

// Register adds secret to the set of strings this sink will scrub. Empty
// strings are ignored since replacing "" would corrupt every string.
func (s *Sink) Register(secret string) {
	if secret == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[secret]; ok {
		return
	}
	s.secrets[secret] = struct{}{}
	s.rebuildLocked()
}

func (s *Sink) rebuildLocked() {
	oldnew := make([]string, 0, len(s.secrets)*2)
	for secret := range s.secrets {
		oldnew = append(oldnew, secret, placeholder)
	}
	s.replacer = strings.NewReplacer(oldnew...)
}

// Redact returns text with every registered secret substring replaced by a
// stable placeholder.
func (s *Sink) Redact(text string) string {
	s.mu.RLock()
	replacer := s.replacer
	s.mu.RUnlock()

	if replacer == nil {
		return text
	}
	return replacer.Replace(text)
}

// RedactArgv returns a copy of argv with every element passed through
// Redact. It is the only path by which a command line may be logged; the
// raw argv must never reach a log call.
func (s *Sink) RedactArgv(argv []string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = s.Redact(a)
	}
	return out
}

// Contains reports whether text still contains a registered secret
// verbatim. Used by tests asserting property 5 (redaction).
func (s *Sink) Contains(text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for secret := range s.secrets {
		if strings.Contains(text, secret) {
			return true
		}
	}
	return false
}
