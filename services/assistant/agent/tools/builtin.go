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

// RegisterBuiltins registers the standard tool set with default
// configuration. Callers that need custom HTTP clients, interpreter
// paths, or directory confinement should construct and register the
// tools directly.
func RegisterBuiltins(reg *Registry) {
	reg.Register(NewWebSearchTool())
	reg.Register(NewBrowserTool())
	reg.Register(NewCodeExecutorTool())
	reg.Register(NewFileParserTool())
}

// NewDefaultRegistry creates a registry with the standard tool set.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()
	RegisterBuiltins(reg)
	return reg
}
