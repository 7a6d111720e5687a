// Package creds extracts generated operator credentials from engine
// output. Extraction runs twice: incrementally per task-result
// fragment while the engine is running, and once more over the full
// retained stdout after exit, because a structured marker can be split
// across output chunks and missed by the incremental pass.
package creds

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/opsforge/opsforge/pkg/engine"
)

// markerRe matches the structured credential marker emitted by
// automation tasks: SERVICE-CRED|<service>|<key>=<value>|...
var markerRe = regexp.MustCompile(`SERVICE-CRED\|([A-Za-z0-9._-]+)((?:\|[A-Za-z0-9._-]+=[^|\r\n"\\]*)+)`)

// pattern is one known human-readable credential line.
type pattern struct {
	re  *regexp.Regexp
	key string
}

// servicePatterns holds the per-service vocabulary of human-readable
// single-line credential markers.
var servicePatterns = map[string][]pattern{
	"mysql": {
		{regexp.MustCompile(`MySQL user:\s*(\S+)`), "username"},
		{regexp.MustCompile(`MySQL password:\s*(\S+)`), "password"},
		{regexp.MustCompile(`MySQL credentials stored in:\s*(\S+)`), "path"},
	},
	"mongodb": {
		{regexp.MustCompile(`MongoDB user:\s*(\S+)`), "username"},
		{regexp.MustCompile(`MongoDB password:\s*(\S+)`), "password"},
		{regexp.MustCompile(`MongoDB credentials stored in:\s*(\S+)`), "path"},
	},
	"kubernetes": {
		{regexp.MustCompile(`Kubernetes admin user:\s*(\S+)`), "username"},
		{regexp.MustCompile(`Kubernetes admin password:\s*(\S+)`), "password"},
		{regexp.MustCompile(`Kubernetes config stored in:\s*(\S+)`), "path"},
	},
}

// Extractor scans output fragments for credential markers. The
// CredentialSet it fills is supplied by the caller and threaded
// through every call; the extractor itself is stateless.
type Extractor struct {
	services []engine.ServiceDefault
}

// NewExtractor creates an extractor with the known services of the
// run's strategy.
func NewExtractor(services []engine.ServiceDefault) *Extractor {
	return &Extractor{services: services}
}

// ExtractFragment runs the incremental pass over one task-result
// remainder. Matching rules, first match wins per fragment:
//
//  1. the structured SERVICE-CRED marker;
//  2. a JSON object with a "msg" field (string or list of strings) or
//     a "stdout" field, recursing over each contained string;
//  3. the known human-readable per-service patterns.
//
// Extracted segments are removed from the returned display text so
// operators never see raw secrets twice; unmatched text is preserved.
func (e *Extractor) ExtractFragment(fragment string, creds engine.CredentialSet) string {
	if matches := markerRe.FindAllStringSubmatch(fragment, -1); len(matches) > 0 {
		for _, m := range matches {
			parseMarker(m[1], m[2], creds)
		}
		return strings.TrimSpace(markerRe.ReplaceAllString(fragment, ""))
	}

	if inner, ok := embeddedStrings(fragment); ok {
		display := fragment
		for _, s := range inner {
			cleaned := e.ExtractFragment(s, creds)
			if cleaned != s {
				// Suppress the extracted segment from the display text.
				display = strings.ReplaceAll(display, s, cleaned)
			}
		}
		return display
	}

	for service, patterns := range servicePatterns {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(fragment)
			if m == nil {
				continue
			}
			creds.Set(service, p.key, m[1])
			return strings.TrimSpace(strings.Replace(fragment, m[0], "", 1))
		}
	}
	return fragment
}

// Fallback runs the full-buffer pass after process exit. Only services
// whose credential set is still empty, or holds nothing beyond the
// injected default path, are re-scanned for the structured marker. An
// incremental miss happens when the marker was split across chunks.
func (e *Extractor) Fallback(stdout string, creds engine.CredentialSet) {
	for _, svc := range e.services {
		if !needsFallback(creds[svc.Name]) {
			continue
		}
		for _, m := range markerRe.FindAllStringSubmatch(stdout, -1) {
			if m[1] == svc.Name {
				parseMarker(m[1], m[2], creds)
			}
		}
	}
}

// Finalize injects the conventional on-host artifact path for each
// known service missing an explicit "path" key. Callers rely on the
// path even when parsing yielded nothing else.
func (e *Extractor) Finalize(creds engine.CredentialSet) {
	for _, svc := range e.services {
		if svc.ArtifactPath == "" {
			continue
		}
		if _, ok := creds.Get(svc.Name, "path"); !ok {
			creds.Set(svc.Name, "path", svc.ArtifactPath)
		}
	}
}

// needsFallback reports whether a per-service map warrants the
// full-buffer pass: empty, or only the default "path" placeholder.
func needsFallback(fields map[string]string) bool {
	if len(fields) == 0 {
		return true
	}
	if len(fields) == 1 {
		_, onlyPath := fields["path"]
		return onlyPath
	}
	return false
}

// parseMarker records the key=value pairs of one marker occurrence.
func parseMarker(service, pairs string, creds engine.CredentialSet) {
	for _, pair := range strings.Split(pairs, "|") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		creds.Set(service, k, v)
	}
}

// embeddedStrings extracts the candidate strings of a JSON-shaped
// fragment: the "msg" field (string or list of strings) and the
// "stdout" field. The reported bool is false when the fragment is not
// a JSON object carrying either field.
func embeddedStrings(fragment string) ([]string, bool) {
	trimmed := strings.TrimSpace(fragment)
	// Task results often prefix the payload with "=> ".
	if rest, ok := strings.CutPrefix(trimmed, "=>"); ok {
		trimmed = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var payload struct {
		Msg    json.RawMessage `json:"msg"`
		Stdout string          `json:"stdout"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, false
	}

	var out []string
	if len(payload.Msg) > 0 {
		var single string
		var list []string
		if err := json.Unmarshal(payload.Msg, &single); err == nil {
			out = append(out, single)
		} else if err := json.Unmarshal(payload.Msg, &list); err == nil {
			out = append(out, list...)
		}
	}
	if payload.Stdout != "" {
		out = append(out, payload.Stdout)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
