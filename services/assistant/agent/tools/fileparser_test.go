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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func TestFileParserTool_Execute(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileParserTool()

	t.Run("small file is one chunk", func(t *testing.T) {
		path := writeTestFile(t, dir, "small.txt", "hello world")

		result, err := tool.Execute(context.Background(), map[string]any{"path": path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success {
			t.Fatalf("expected success: %s", result.Error)
		}

		payload := result.Output.(map[string]any)
		if payload["status"] != "success" {
			t.Errorf("expected status success, got %v", payload["status"])
		}
		if payload["file_type"] != "txt" {
			t.Errorf("expected file_type txt, got %v", payload["file_type"])
		}
		chunks := payload["chunks"].([]string)
		if len(chunks) != 1 || chunks[0] != "hello world" {
			t.Errorf("unexpected chunks: %v", chunks)
		}
	})

	t.Run("large file splits into chunks", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 200; i++ {
			sb.WriteString("This is a sentence used to fill the document with text.\n\n")
		}
		path := writeTestFile(t, dir, "large.txt", sb.String())

		result, err := tool.Execute(context.Background(), map[string]any{
			"path":       path,
			"chunk_size": 500,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		payload := result.Output.(map[string]any)
		chunks := payload["chunks"].([]string)
		if len(chunks) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(chunks))
		}
		for i, chunk := range chunks {
			if len(chunk) > 600 {
				t.Errorf("chunk %d exceeds size bound: %d chars", i, len(chunk))
			}
		}
		if payload["chunk_count"] != len(chunks) {
			t.Errorf("chunk_count mismatch: %v vs %d", payload["chunk_count"], len(chunks))
		}
	})

	t.Run("markdown splits on headings", func(t *testing.T) {
		content := "# One\n\n" + strings.Repeat("alpha ", 200) + "\n\n# Two\n\n" + strings.Repeat("beta ", 200)
		path := writeTestFile(t, dir, "doc.md", content)

		result, err := tool.Execute(context.Background(), map[string]any{"path": path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		payload := result.Output.(map[string]any)
		if payload["file_type"] != "md" {
			t.Errorf("expected file_type md, got %v", payload["file_type"])
		}
		chunks := payload["chunks"].([]string)
		if len(chunks) < 2 {
			t.Errorf("expected heading-based split, got %d chunks", len(chunks))
		}
	})

	t.Run("missing file becomes error payload", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{
			"path": filepath.Join(dir, "absent.txt"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Fatal("expected failure for missing file")
		}
		payload := result.Output.(map[string]any)
		if payload["status"] != "error" {
			t.Errorf("expected status error, got %v", payload["status"])
		}
	})

	t.Run("directory rejected", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{"path": dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Error("expected failure for directory path")
		}
	})

	t.Run("empty path fails", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Error("expected failure for missing path")
		}
	})
}

func TestFileParserTool_BaseDir(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "inside.txt", "content")
	tool := NewFileParserTool(WithBaseDir(dir))

	t.Run("relative path inside base", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{"path": "inside.txt"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success {
			t.Fatalf("expected success: %s", result.Error)
		}
	})

	t.Run("escape attempt rejected", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{
			"path": "../outside.txt",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Fatal("expected traversal to be rejected")
		}
		payload := result.Output.(map[string]any)
		msg, _ := payload["error"].(string)
		if !strings.Contains(msg, "outside the allowed directory") {
			t.Errorf("unexpected error message: %q", msg)
		}
	})

	t.Run("absolute path outside base rejected", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]any{
			"path": "/etc/hostname",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Error("expected absolute escape to be rejected")
		}
	})
}

func TestSplitterForFile(t *testing.T) {
	// Verifies extension routing by splitting content shaped for each family
	pyContent := "class A:\n    pass\n" + strings.Repeat("x = 1\n", 300) + "\ndef b():\n    pass\n"
	splitter := splitterForFile("script.py", 500)
	chunks, err := splitter.SplitText(pyContent)
	if err != nil {
		t.Fatalf("split error: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected python content to split, got %d chunks", len(chunks))
	}
}
