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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// defaultChunkSize is the default split size in characters.
	defaultChunkSize = 1000

	// maxFileBytes caps how large a file the parser will read.
	maxFileBytes = 10 << 20
)

// Separator sets per file family, ordered from coarsest to finest.
var (
	fileDefaultSeparators = []string{"\n\n", "\n", " ", ""}
	filePythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	fileCStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	fileMarkdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// FileParserTool implements the file_parser tool.
//
// Description:
//
//	FileParserTool reads a local file and splits it into chunks sized
//	for model consumption. The splitter separators adapt to the file
//	type so chunks break on structural boundaries (headings, function
//	definitions) where possible.
//
// Thread Safety: FileParserTool is safe for concurrent use.
type FileParserTool struct {
	baseDir string
}

// FileParserOption configures a FileParserTool.
type FileParserOption func(*FileParserTool)

// WithBaseDir confines file access to the given directory tree.
func WithBaseDir(dir string) FileParserOption {
	return func(t *FileParserTool) {
		t.baseDir = dir
	}
}

// NewFileParserTool creates the file_parser tool.
func NewFileParserTool(opts ...FileParserOption) *FileParserTool {
	t := &FileParserTool{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tool name.
func (t *FileParserTool) Name() string {
	return "file_parser"
}

// Category returns the tool category.
func (t *FileParserTool) Category() ToolCategory {
	return CategoryFile
}

// Definition returns the tool's parameter schema.
func (t *FileParserTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "file_parser",
		Description: "Read a local file and split its content into structured chunks.",
		Parameters: map[string]ParamDef{
			"path": {
				Type:        ParamTypeString,
				Description: "Path of the file to read.",
				Required:    true,
			},
			"chunk_size": {
				Type:        ParamTypeInt,
				Description: "Target chunk size in characters.",
				Required:    false,
				Default:     defaultChunkSize,
			},
		},
		Category:    CategoryFile,
		Priority:    60,
		SideEffects: false,
		Timeout:     10 * time.Second,
		Examples: []ToolExample{
			{
				Description: "Parse a markdown document",
				Parameters: map[string]any{
					"path": "notes/meeting.md",
				},
				ExpectedOutput: "File content split into heading-aligned chunks",
			},
		},
	}
}

// Execute reads and chunks the file.
func (t *FileParserTool) Execute(_ context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	path, _ := params["path"].(string)
	if path == "" {
		return &Result{
			Success:  false,
			Error:    "path must be a non-empty string",
			Duration: time.Since(start),
		}, nil
	}

	chunkSize := intParam(params, "chunk_size", defaultChunkSize)
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	resolved, err := t.resolve(path)
	if err != nil {
		return t.errorResult(path, err, start), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return t.errorResult(path, err, start), nil
	}
	if info.IsDir() {
		return t.errorResult(path, fmt.Errorf("%s is a directory", path), start), nil
	}
	if info.Size() > maxFileBytes {
		return t.errorResult(path, fmt.Errorf("file exceeds maximum size of %d bytes", maxFileBytes), start), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return t.errorResult(path, err, start), nil
	}

	splitter := splitterForFile(resolved, chunkSize)
	chunks, err := splitter.SplitText(string(data))
	if err != nil {
		return t.errorResult(path, fmt.Errorf("splitting content: %w", err), start), nil
	}

	fileType := strings.TrimPrefix(filepath.Ext(resolved), ".")
	if fileType == "" {
		fileType = "text"
	}

	payload := map[string]any{
		"status":      "success",
		"path":        path,
		"file_type":   fileType,
		"size":        info.Size(),
		"chunks":      chunks,
		"chunk_count": len(chunks),
	}

	outputText := fmt.Sprintf("Parsed %s into %d chunks (%d bytes)", path, len(chunks), info.Size())

	return &Result{
		Success:    true,
		Output:     payload,
		OutputText: outputText,
		Duration:   time.Since(start),
		TokensUsed: len(outputText) / 4,
		Metadata: map[string]any{
			"path":        path,
			"chunk_count": len(chunks),
		},
	}, nil
}

// resolve applies the base directory confinement if configured.
func (t *FileParserTool) resolve(path string) (string, error) {
	if t.baseDir == "" {
		return path, nil
	}

	base, err := filepath.Abs(t.baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}

	joined := path
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(base, joined)
	}
	joined = filepath.Clean(joined)

	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the allowed directory", path)
	}
	return joined, nil
}

// errorResult builds the error payload for a failed parse.
func (t *FileParserTool) errorResult(path string, err error, start time.Time) *Result {
	return &Result{
		Success: false,
		Output: map[string]any{
			"status": "error",
			"path":   path,
			"error":  err.Error(),
		},
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}

// splitterForFile picks separator sets by file extension.
func splitterForFile(filename string, chunkSize int) textsplitter.TextSplitter {
	overlap := chunkSize / 10

	separators := fileDefaultSeparators
	switch filepath.Ext(filename) {
	case ".md", ".markdown":
		separators = fileMarkdownSeparators
	case ".py", ".pyi":
		separators = filePythonSeparators
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		separators = fileCStyleSeparators
	}

	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	)
}
