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

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const reasoningPromptTemplate = `I need to reason about how to approach this problem:

%s

Please help me think through:
1. What are the key aspects or dimensions of this problem?
2. What are different possible approaches to solving it?
3. What are the trade-offs between these approaches?
4. What information or resources would I need for each approach?
5. Which approach seems most promising and why?

Provide a structured analysis that demonstrates deep reasoning.`

// Reasoning is a structured analysis of how to approach a problem.
type Reasoning struct {
	Problem  string `json:"problem"`
	Analysis string `json:"analysis"`

	// RecommendedApproach is extracted from the analysis on a best
	// effort basis. Empty when no recommendation was found.
	RecommendedApproach string `json:"recommended_approach"`

	Timestamp time.Time `json:"timestamp"`
}

// ReasonAboutApproach asks the model to analyze a problem before
// planning it.
//
// Description:
//
//	Requests a structured analysis covering dimensions, candidate
//	approaches, trade-offs, and a recommendation. The recommendation
//	is pulled from the line following the first line that mentions
//	"most promising"; when the analysis has no such line the
//	recommendation is left empty.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	problem - The problem to analyze.
func (p *Planner) ReasonAboutApproach(ctx context.Context, problem string) (*Reasoning, error) {
	reply, err := p.complete(ctx, fmt.Sprintf(reasoningPromptTemplate, problem))
	if err != nil {
		return nil, err
	}
	return &Reasoning{
		Problem:             problem,
		Analysis:            reply,
		RecommendedApproach: extractRecommendation(reply),
		Timestamp:           time.Now(),
	}, nil
}

// extractRecommendation returns the line after the first line that
// mentions the recommended approach.
func extractRecommendation(analysis string) string {
	lines := strings.Split(analysis, "\n")
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "most promising") && i+1 < len(lines) {
			return strings.TrimSpace(lines[i+1])
		}
	}
	return ""
}
