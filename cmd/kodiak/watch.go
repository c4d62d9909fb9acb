// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/kodiak/pkg/ux"
	"github.com/AleutianAI/kodiak/services/assistant/agent"
)

// watchHistoryLines is how many recent iterations the live view keeps.
const watchHistoryLines = 8

type snapshotMsg agent.StatusSnapshot

type streamClosedMsg struct{}

// watchModel is the live task view: a spinner, the latest status, and
// a short tail of recent iterations.
type watchModel struct {
	task      string
	spin      spinner.Model
	snapshots <-chan agent.StatusSnapshot
	latest    *agent.StatusSnapshot
	lines     []string
	done      bool
}

func newWatchModel(task string, snapshots <-chan agent.StatusSnapshot) watchModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = ux.Styles.Highlight
	return watchModel{task: task, spin: spin, snapshots: snapshots}
}

func waitForSnapshot(ch <-chan agent.StatusSnapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForSnapshot(m.snapshots))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case snapshotMsg:
		snap := agent.StatusSnapshot(msg)
		m.latest = &snap
		m.lines = append(m.lines, formatSnapshotLine(snap))
		if len(m.lines) > watchHistoryLines {
			m.lines = m.lines[len(m.lines)-watchHistoryLines:]
		}
		return m, waitForSnapshot(m.snapshots)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(ux.Styles.Title.Render("Kodiak task"))
	b.WriteString("\n")
	b.WriteString(ux.Styles.Subtitle.Render(m.task))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(ux.Styles.Success.Render("finished"))
	} else if m.latest != nil {
		b.WriteString(fmt.Sprintf("%s iteration %d  %s",
			m.spin.View(), m.latest.Iteration,
			ux.Styles.Bold.Render(m.latest.Status)))
	} else {
		b.WriteString(fmt.Sprintf("%s starting", m.spin.View()))
	}
	b.WriteString("\n\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ux.Styles.Muted.Render("q to detach"))
	b.WriteString("\n")
	return b.String()
}

func formatSnapshotLine(snap agent.StatusSnapshot) string {
	if snap.Error != "" {
		return fmt.Sprintf("%s iteration %d %s",
			ux.Styles.Warning.Render(string(ux.IconWarning)), snap.Iteration,
			ux.Styles.Muted.Render(snap.Error))
	}
	return fmt.Sprintf("%s iteration %d %s",
		ux.Styles.Muted.Render(string(ux.IconBullet)), snap.Iteration, snap.Status)
}

// watchTaskView runs the live view until the task terminates or the
// user detaches. Detaching does not stop the task.
func watchTaskView(task string, snapshots <-chan agent.StatusSnapshot) error {
	program := tea.NewProgram(newWatchModel(task, snapshots))
	_, err := program.Run()
	return err
}
