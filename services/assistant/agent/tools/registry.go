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
	"sort"
	"sync"
)

// Registry manages tool registration and lookup.
//
// Tools are indexed by name and by category. Registration replaces any
// tool with the same name, moving it between category lists if its
// category changed.
//
// Thread Safety:
//
//	Registry is fully thread-safe. All methods can be called concurrently.
type Registry struct {
	mu sync.RWMutex

	// byName maps tool names to tool instances.
	byName map[string]Tool

	// byCategory maps categories to lists of tools.
	byCategory map[ToolCategory][]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Tool),
		byCategory: make(map[ToolCategory][]Tool),
	}
}

// Register adds a tool to the registry.
//
// Description:
//
//	Registers a tool under its Name() and Category(). If a tool with
//	the same name is already registered, it will be replaced.
//
// Inputs:
//
//	tool - The tool to register. Nil tools are ignored.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Register(tool Tool) {
	if tool == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	category := tool.Category()

	if existing, ok := r.byName[name]; ok {
		// Remove from old category if category changed
		oldCategory := existing.Category()
		if oldCategory != category {
			r.removeFromCategory(oldCategory, name)
		}
	}

	r.byName[name] = tool

	for i, t := range r.byCategory[category] {
		if t.Name() == name {
			r.byCategory[category][i] = tool
			return
		}
	}
	r.byCategory[category] = append(r.byCategory[category], tool)
}

// removeFromCategory removes a tool from a category list.
// Caller must hold the write lock.
func (r *Registry) removeFromCategory(category ToolCategory, name string) {
	list, ok := r.byCategory[category]
	if !ok {
		return
	}

	for i, t := range list {
		if t.Name() == name {
			r.byCategory[category] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Get returns a tool by name.
//
// Outputs:
//
//	Tool - The registered tool, or nil if not found
//	bool - True if the tool was found
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byName[name]
	return tool, ok
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byName[name]
	return ok
}

// OpenEnded reports whether the named tool is marked open-ended, meaning
// its results should be elaborated on by the model rather than relayed
// verbatim. Unknown tools are not open-ended.
func (r *Registry) OpenEnded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byName[name]
	if !ok {
		return false
	}
	return tool.Definition().OpenEnded
}

// GetByCategory returns all tools in a category.
//
// The returned slice is a copy and may be retained by the caller.
func (r *Registry) GetByCategory(category ToolCategory) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.byCategory[category]
	if !ok {
		return nil
	}

	result := make([]Tool, len(list))
	copy(result, list)
	return result
}

// GetAll returns all registered tools.
func (r *Registry) GetAll() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.byName))
	for _, tool := range r.byName {
		result = append(result, tool)
	}
	return result
}

// GetEnabled returns tools that match the enabled criteria.
//
// Inputs:
//
//	enabledCategories - Categories to include (empty = all)
//	disabledTools - Specific tool names to exclude
//
// Outputs:
//
//	[]Tool - Enabled tools sorted by priority (higher first)
func (r *Registry) GetEnabled(enabledCategories []string, disabledTools []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	disabled := make(map[string]bool)
	for _, name := range disabledTools {
		disabled[name] = true
	}

	enabledSet := make(map[ToolCategory]bool)
	for _, cat := range enabledCategories {
		enabledSet[ToolCategory(cat)] = true
	}

	var result []Tool
	for _, tool := range r.byName {
		if disabled[tool.Name()] {
			continue
		}
		if len(enabledCategories) > 0 && !enabledSet[tool.Category()] {
			continue
		}
		result = append(result, tool)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition().Priority > result[j].Definition().Priority
	})

	return result
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns all categories that have registered tools.
func (r *Registry) Categories() []ToolCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var categories []ToolCategory
	for category, list := range r.byCategory {
		if len(list) > 0 {
			categories = append(categories, category)
		}
	}
	return categories
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Unregister removes a tool from the registry.
//
// Outputs:
//
//	bool - True if the tool was found and removed
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.byName[name]
	if !ok {
		return false
	}

	delete(r.byName, name)
	r.removeFromCategory(tool.Category(), name)
	return true
}

// GetDefinitions returns definitions for all registered tools, sorted by
// priority (higher first) and then by name for stable prompt ordering.
func (r *Registry) GetDefinitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]ToolDefinition, 0, len(r.byName))
	for _, tool := range r.byName {
		definitions = append(definitions, tool.Definition())
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].Priority != definitions[j].Priority {
			return definitions[i].Priority > definitions[j].Priority
		}
		return definitions[i].Name < definitions[j].Name
	})

	return definitions
}
