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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const (
	// defaultCodeTimeout bounds a single code execution.
	defaultCodeTimeout = 5 * time.Second

	// maxCodeTimeout is the largest per-call timeout a caller may request.
	maxCodeTimeout = 30 * time.Second

	// maxCodeBytes caps the size of submitted code.
	maxCodeBytes = 64 << 10

	// unsafeCodeError is returned when the safety screen rejects code.
	unsafeCodeError = "Code contains potentially unsafe operations"

	// unsafeCodeStderr explains the rejection in the stderr channel.
	unsafeCodeStderr = "Security error: Attempted to use disallowed modules or functions"
)

// disallowedModules lists Python modules the safety screen rejects, both
// as imports and as attribute access roots.
var disallowedModules = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "shutil": true,
	"socket": true, "requests": true, "urllib": true, "http": true,
	"ftplib": true, "telnetlib": true, "smtplib": true,
	"pickle": true, "shelve": true, "marshal": true,
	"importlib": true, "pathlib": true,
}

// disallowedCalls lists builtins the safety screen rejects. open is
// screened here because the subprocess interpreter runs with full
// builtins rather than a restricted set.
var disallowedCalls = map[string]bool{
	"exec": true, "eval": true, "compile": true, "__import__": true,
	"open": true,
}

// CodeExecutorTool implements the code_executor tool.
//
// Description:
//
//	CodeExecutorTool runs Python code in a subprocess after screening it
//	with a tree-sitter parse. The screen rejects syntactically invalid
//	code, imports of system and network modules, dynamic execution
//	builtins, and attribute access on disallowed module names.
//
// Thread Safety: CodeExecutorTool is safe for concurrent use.
type CodeExecutorTool struct {
	pythonPath string
}

// CodeExecutorOption configures a CodeExecutorTool.
type CodeExecutorOption func(*CodeExecutorTool)

// WithPythonPath sets the Python interpreter to invoke.
func WithPythonPath(path string) CodeExecutorOption {
	return func(t *CodeExecutorTool) {
		if path != "" {
			t.pythonPath = path
		}
	}
}

// NewCodeExecutorTool creates the code_executor tool.
func NewCodeExecutorTool(opts ...CodeExecutorOption) *CodeExecutorTool {
	t := &CodeExecutorTool{
		pythonPath: "python3",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tool name.
func (t *CodeExecutorTool) Name() string {
	return "code_executor"
}

// Category returns the tool category.
func (t *CodeExecutorTool) Category() ToolCategory {
	return CategoryExecution
}

// Definition returns the tool's parameter schema.
func (t *CodeExecutorTool) Definition() ToolDefinition {
	maxTimeout := float64(maxCodeTimeout / time.Second)
	return ToolDefinition{
		Name:        "code_executor",
		Description: "Execute Python code safely and return its stdout, stderr, and result.",
		Parameters: map[string]ParamDef{
			"code": {
				Type:        ParamTypeString,
				Description: "Python code to execute.",
				Required:    true,
			},
			"timeout": {
				Type:        ParamTypeInt,
				Description: "Maximum execution time in seconds.",
				Required:    false,
				Default:     5,
				Maximum:     &maxTimeout,
			},
		},
		Category:    CategoryExecution,
		Priority:    85,
		SideEffects: true,
		OpenEnded:   true,
		Timeout:     maxCodeTimeout + 5*time.Second,
		Examples: []ToolExample{
			{
				Description: "Run a computation",
				Parameters: map[string]any{
					"code": "print(sum(range(10)))",
				},
				ExpectedOutput: "stdout containing 45",
			},
		},
	}
}

// Execute screens the code and runs it in a Python subprocess.
func (t *CodeExecutorTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	code, _ := params["code"].(string)
	if code == "" {
		return &Result{
			Success:  false,
			Error:    "code must be a non-empty string",
			Duration: time.Since(start),
		}, nil
	}
	if len(code) > maxCodeBytes {
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("code exceeds maximum size of %d bytes", maxCodeBytes),
			Duration: time.Since(start),
		}, nil
	}

	timeout := time.Duration(intParam(params, "timeout", 5)) * time.Second
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}
	if timeout > maxCodeTimeout {
		timeout = maxCodeTimeout
	}

	safe, err := t.checkCodeSafety(ctx, code)
	if err != nil {
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("safety check failed: %v", err),
			Duration: time.Since(start),
		}, nil
	}
	if !safe {
		return &Result{
			Success: false,
			Output: map[string]any{
				"status": "error",
				"error":  unsafeCodeError,
				"stdout": "",
				"stderr": unsafeCodeStderr,
			},
			Error:    unsafeCodeError,
			Duration: time.Since(start),
		}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, t.pythonPath, "-c", code)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("code execution timed out after %v", timeout)
		return &Result{
			Success: false,
			Output: map[string]any{
				"status": "error",
				"error":  msg,
				"stdout": stdout.String(),
				"stderr": stderr.String(),
			},
			Error:    msg,
			Duration: time.Since(start),
		}, nil
	}

	if runErr != nil {
		return &Result{
			Success: false,
			Output: map[string]any{
				"status": "error",
				"error":  runErr.Error(),
				"stdout": stdout.String(),
				"stderr": stderr.String(),
			},
			Error:    runErr.Error(),
			Duration: time.Since(start),
		}, nil
	}

	payload := map[string]any{
		"status": "success",
		"stdout": stdout.String(),
		"stderr": stderr.String(),
		"result": nil,
	}

	outputText := strings.TrimSpace(stdout.String())
	if outputText == "" {
		outputText = "(no output)"
	}

	return &Result{
		Success:    true,
		Output:     payload,
		OutputText: outputText,
		Duration:   time.Since(start),
		TokensUsed: len(outputText) / 4,
		Metadata: map[string]any{
			"stdout_bytes": stdout.Len(),
			"stderr_bytes": stderr.Len(),
		},
	}, nil
}

// checkCodeSafety parses the code with tree-sitter and walks the tree
// for disallowed constructs. Syntactically invalid code is unsafe.
func (t *CodeExecutorTool) checkCodeSafety(ctx context.Context, code string) (bool, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return false, fmt.Errorf("parsing code: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return false, nil
	}

	return nodeSafe(root, []byte(code), 0), nil
}

// nodeSafe recursively checks a node and its children. Trees nested
// deeper than the guard are rejected rather than partially screened.
func nodeSafe(node *sitter.Node, content []byte, depth int) bool {
	if depth > 1000 {
		return false
	}

	switch node.Type() {
	case "import_statement", "import_from_statement":
		if importsDisallowedModule(node, content) {
			return false
		}
	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil && fn.Type() == "identifier" {
			if disallowedCalls[nodeText(fn, content)] {
				return false
			}
		}
	case "attribute":
		if obj := node.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
			if disallowedModules[moduleRoot(nodeText(obj, content))] {
				return false
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		if !nodeSafe(node.Child(i), content, depth+1) {
			return false
		}
	}
	return true
}

// importsDisallowedModule checks an import node for disallowed modules.
func importsDisallowedModule(node *sitter.Node, content []byte) bool {
	if node.Type() == "import_from_statement" {
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			if mod.Type() == "dotted_name" && disallowedModules[moduleRoot(nodeText(mod, content))] {
				return true
			}
			// Relative imports have no module root to screen
			return false
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			if disallowedModules[moduleRoot(nodeText(child, content))] {
				return true
			}
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				if disallowedModules[moduleRoot(nodeText(name, content))] {
					return true
				}
			}
		}
	}
	return false
}

// nodeText extracts the source text for a node.
func nodeText(node *sitter.Node, content []byte) string {
	startByte := node.StartByte()
	endByte := node.EndByte()
	if int(endByte) > len(content) {
		endByte = uint32(len(content))
	}
	return string(content[startByte:endByte])
}

// moduleRoot returns the first segment of a dotted module path.
func moduleRoot(name string) string {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}
