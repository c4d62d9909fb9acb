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
	"reflect"
	"strings"
	"testing"
)

func TestFormatToolCall(t *testing.T) {
	t.Run("canonical form", func(t *testing.T) {
		marker, err := FormatToolCall("web_search", map[string]any{"query": "golang"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := `<<TOOL:web_search {"query":"golang"}>><<END_TOOL>>`
		if marker != want {
			t.Errorf("expected %q, got %q", want, marker)
		}
	})

	t.Run("nil args become empty object", func(t *testing.T) {
		marker, err := FormatToolCall("browser_use", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if marker != `<<TOOL:browser_use {}>><<END_TOOL>>` {
			t.Errorf("unexpected marker: %q", marker)
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		if _, err := FormatToolCall("", nil); !errors.Is(err, ErrMalformedMarker) {
			t.Errorf("expected ErrMalformedMarker, got %v", err)
		}
	})
}

func TestParseToolCall(t *testing.T) {
	t.Run("canonical form", func(t *testing.T) {
		text := `Let me look that up. <<TOOL:web_search {"query":"capybara"}>><<END_TOOL>> One moment.`
		call, err := ParseToolCall(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if call.Name != "web_search" {
			t.Errorf("expected web_search, got %s", call.Name)
		}
		if call.Args["query"] != "capybara" {
			t.Errorf("expected query arg, got %v", call.Args)
		}
		if text[call.Start:call.End] != call.Raw {
			t.Error("expected span to match raw marker text")
		}
		if !strings.HasSuffix(call.Raw, MarkerEnd) {
			t.Errorf("expected raw to include terminator, got %q", call.Raw)
		}
	})

	t.Run("missing terminator tolerated", func(t *testing.T) {
		call, err := ParseToolCall(`<<TOOL:browser_use {"url":"https://example.com"}>>`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if call.Name != "browser_use" {
			t.Errorf("expected browser_use, got %s", call.Name)
		}
		if call.Args["url"] != "https://example.com" {
			t.Errorf("expected url arg, got %v", call.Args)
		}
	})

	t.Run("missing args become empty map", func(t *testing.T) {
		call, err := ParseToolCall(`<<TOOL:web_search>>`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(call.Args) != 0 {
			t.Errorf("expected empty args, got %v", call.Args)
		}
	})

	t.Run("first marker wins", func(t *testing.T) {
		text := `<<TOOL:first {}>><<END_TOOL>> and <<TOOL:second {}>><<END_TOOL>>`
		call, err := ParseToolCall(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if call.Name != "first" {
			t.Errorf("expected first marker, got %s", call.Name)
		}
	})

	t.Run("no marker", func(t *testing.T) {
		if _, err := ParseToolCall("just a normal reply"); !errors.Is(err, ErrNoMarker) {
			t.Errorf("expected ErrNoMarker, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := ParseToolCall(`<<TOOL:web_search {"query": }>>`); !errors.Is(err, ErrMalformedMarker) {
			t.Errorf("expected ErrMalformedMarker, got %v", err)
		}
	})

	t.Run("missing close", func(t *testing.T) {
		if _, err := ParseToolCall(`<<TOOL:web_search {"query":"x"}`); !errors.Is(err, ErrMalformedMarker) {
			t.Errorf("expected ErrMalformedMarker, got %v", err)
		}
	})
}

func TestMarkerRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{
			name: "simple",
			tool: "web_search",
			args: map[string]any{"query": "golang testing"},
		},
		{
			name: "empty args",
			tool: "browser_use",
			args: map[string]any{},
		},
		{
			name: "args containing marker tokens",
			tool: "code_executor",
			args: map[string]any{"code": `print(">>")  # <<END_TOOL>> inside a string`},
		},
		{
			name: "nested objects and arrays",
			tool: "file_parser",
			args: map[string]any{
				"path": "notes.md",
				"options": map[string]any{
					"tags":    []any{"a", "b"},
					"enabled": true,
					"ratio":   0.5,
				},
			},
		},
		{
			name: "unicode",
			tool: "web_search",
			args: map[string]any{"query": "straße 日本語 \"quoted\""},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			marker, err := FormatToolCall(tc.tool, tc.args)
			if err != nil {
				t.Fatalf("format error: %v", err)
			}

			call, err := ParseToolCall("prefix " + marker + " suffix")
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}

			if call.Name != tc.tool {
				t.Errorf("name mismatch: %s != %s", call.Name, tc.tool)
			}
			if !reflect.DeepEqual(call.Args, tc.args) {
				t.Errorf("args mismatch:\n got %#v\nwant %#v", call.Args, tc.args)
			}
		})
	}

	t.Run("numeric args round-trip as json", func(t *testing.T) {
		args := map[string]any{"num_results": 5, "threshold": 0.25}
		marker, err := FormatToolCall("web_search", args)
		if err != nil {
			t.Fatalf("format error: %v", err)
		}
		call, err := ParseToolCall(marker)
		if err != nil {
			t.Fatalf("parse error: %v", err)
		}

		got, _ := json.Marshal(call.Args)
		want, _ := json.Marshal(args)
		if string(got) != string(want) {
			t.Errorf("json mismatch: %s != %s", got, want)
		}
	})
}

func TestMarkerCall_Splice(t *testing.T) {
	text := `Here you go: <<TOOL:web_search {"query":"x"}>><<END_TOOL>> done.`
	call, err := ParseToolCall(text)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	out := call.Splice(text, "[RESULT]")
	if out != "Here you go: [RESULT] done." {
		t.Errorf("unexpected splice output: %q", out)
	}
}

func TestFormatPayload(t *testing.T) {
	payload := map[string]any{"status": "success", "count": 2}
	text := FormatPayload(payload)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("expected valid json, got %v: %s", err, text)
	}
	if decoded["status"] != "success" {
		t.Errorf("expected status preserved, got %v", decoded)
	}
	if !strings.Contains(text, "\n") {
		t.Error("expected indented output")
	}
}
