// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Inline tool-call marker tokens. The canonical form is
//
//	<<TOOL:name {"param": "value"}>><<END_TOOL>>
//
// The scanner also tolerates a missing <<END_TOOL>> terminator and a
// missing argument object, since model output does not always reproduce
// the canonical form exactly.
const (
	// MarkerStart opens an inline tool call.
	MarkerStart = "<<TOOL:"

	// MarkerClose closes the name and argument section.
	MarkerClose = ">>"

	// MarkerEnd terminates the full marker.
	MarkerEnd = "<<END_TOOL>>"
)

// markerNameRe matches the tool name immediately after MarkerStart.
var markerNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+`)

// Sentinel errors for marker scanning.
var (
	// ErrNoMarker indicates no inline tool-call marker was found.
	ErrNoMarker = errors.New("no tool marker found")

	// ErrMalformedMarker indicates a marker was found but could not be parsed.
	ErrMalformedMarker = errors.New("malformed tool marker")
)

// MarkerCall is an inline tool call parsed from model output.
type MarkerCall struct {
	// Name is the tool name to invoke.
	Name string `json:"name"`

	// Args contains the decoded argument object.
	Args map[string]any `json:"args"`

	// Raw is the full marker text as it appeared in the output.
	Raw string `json:"raw"`

	// Start is the byte offset where the marker begins.
	Start int `json:"start"`

	// End is the byte offset just past the marker.
	End int `json:"end"`
}

// FormatToolCall renders the canonical inline marker for a tool call.
//
// Description:
//
//	Produces the exact token the scanner recognizes. Formatting a call
//	and re-parsing it yields the identical name and arguments for any
//	JSON-serializable argument map.
//
// Inputs:
//
//	name - Tool name, must be non-empty
//	args - Argument map (nil is treated as empty)
//
// Outputs:
//
//	string - The marker text
//	error - Non-nil if the name is empty or args cannot be marshaled
func FormatToolCall(name string, args map[string]any) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty tool name", ErrMalformedMarker)
	}
	if args == nil {
		args = map[string]any{}
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMarker, err)
	}

	return MarkerStart + name + " " + string(encoded) + MarkerClose + MarkerEnd, nil
}

// ParseToolCall scans text for the first inline tool-call marker.
//
// Description:
//
//	Finds the first MarkerStart token, reads the tool name, and decodes
//	exactly one JSON object as the arguments. Decoding with a JSON
//	decoder rather than searching for the closing token means argument
//	values may themselves contain ">>" or "<<END_TOOL>>" without
//	breaking the scan.
//
// Inputs:
//
//	text - Model output to scan
//
// Outputs:
//
//	*MarkerCall - The parsed call with its span in the text
//	error - ErrNoMarker if absent, ErrMalformedMarker if unparseable
func ParseToolCall(text string) (*MarkerCall, error) {
	start := strings.Index(text, MarkerStart)
	if start < 0 {
		return nil, ErrNoMarker
	}

	rest := text[start+len(MarkerStart):]

	name := markerNameRe.FindString(rest)
	if name == "" {
		return nil, fmt.Errorf("%w: missing tool name", ErrMalformedMarker)
	}

	pos := len(name)
	pos += countSpaces(rest[pos:])

	args := map[string]any{}
	if pos < len(rest) && rest[pos] == '{' {
		dec := json.NewDecoder(strings.NewReader(rest[pos:]))
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: invalid arguments: %v", ErrMalformedMarker, err)
		}
		pos += int(dec.InputOffset())
	}

	pos += countSpaces(rest[pos:])
	if !strings.HasPrefix(rest[pos:], MarkerClose) {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedMarker, MarkerClose)
	}
	pos += len(MarkerClose)

	// Consume the terminator when present
	tail := pos + countSpaces(rest[pos:])
	if strings.HasPrefix(rest[tail:], MarkerEnd) {
		pos = tail + len(MarkerEnd)
	}

	end := start + len(MarkerStart) + pos
	return &MarkerCall{
		Name:  name,
		Args:  args,
		Raw:   text[start:end],
		Start: start,
		End:   end,
	}, nil
}

// Splice replaces the marker's span in text with the replacement string.
func (m *MarkerCall) Splice(text, replacement string) string {
	if m.Start < 0 || m.End > len(text) || m.Start > m.End {
		return text
	}
	return text[:m.Start] + replacement + text[m.End:]
}

// FormatPayload renders a tool payload as indented JSON for splicing
// into conversational output.
func FormatPayload(payload map[string]any) string {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(encoded)
}

// countSpaces returns the number of leading space and tab characters.
func countSpaces(s string) int {
	n := 0
	for n < len(s) && (s[n] == ' ' || s[n] == '\t') {
		n++
	}
	return n
}
