// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import "strings"

// ParseNumberedList extracts items from numbered model output.
//
// Description:
//
//	A line beginning with a one- or two-digit number followed by '.'
//	or ')' starts a new item. Any other non-blank line is joined onto
//	the current item with a single space, so wrapped step text stays
//	one item. Items keep their list markers.
//
// Inputs:
//
//	text - Model reply expected to contain a numbered list.
//
// Outputs:
//
//	[]string - Items in order of appearance. Empty when no lines parse.
//
// Example:
//
//	ParseNumberedList("1. Fetch data\nfrom the API\n2) Parse it")
//	// -> []string{"1. Fetch data from the API", "2) Parse it"}
func ParseNumberedList(text string) []string {
	var items []string
	var current string

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if startsNumberedItem(line) {
			if current != "" {
				items = append(items, current)
			}
			current = line
		} else {
			current += " " + line
		}
	}
	if current != "" {
		items = append(items, current)
	}
	return items
}

// startsNumberedItem reports whether a trimmed line opens a list item:
// a digit, an optional second digit, then '.' or ')'.
func startsNumberedItem(line string) bool {
	if len(line) < 2 || !isDigit(line[0]) {
		return false
	}
	if line[1] == '.' || line[1] == ')' {
		return true
	}
	return len(line) > 2 && isDigit(line[1]) && (line[2] == '.' || line[2] == ')')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
