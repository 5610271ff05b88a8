package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/GratefulDave/stravinsky-sub003/internal/sidecar"
)

const (
	watchSparklineWidth  = 30
	watchSparklineHeight = 3
	watchTailLines       = 8
	totalPhases          = 8
)

var watchCmd = &cobra.Command{
	Use:   "watch [sidecar.jsonl]",
	Short: "Follow a live request's sidecar log as a dashboard",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	records, err := sidecar.Follow(ctx, args[0])
	if err != nil {
		return err
	}

	model := newWatchModel(args[0], records)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

var (
	watchHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("51")).
				Bold(true).
				Padding(0, 1)

	watchSectionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("51")).
				Bold(true).
				MarginTop(1)

	watchLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	watchValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	watchDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	watchSparkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))

	watchFooterStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				MarginTop(1)
)

type recordMsg sidecar.Record
type streamClosedMsg struct{}
type watchTickMsg time.Time

type watchModel struct {
	path    string
	records <-chan sidecar.Record

	phases       []string
	currentPhase string
	waveIndex    int
	waveTasks    []string
	outputTail   []string
	activity     []float64
	tickOutput   float64
	closed       bool

	phaseProgress progress.Model
}

func newWatchModel(path string, records <-chan sidecar.Record) watchModel {
	return watchModel{
		path:    path,
		records: records,
		phases:  []string{"classify"},
		phaseProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

func waitForRecord(records <-chan sidecar.Record) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-records
		if !ok {
			return streamClosedMsg{}
		}
		return recordMsg(rec)
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(waitForRecord(m.records), watchTick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case recordMsg:
		m.apply(sidecar.Record(msg))
		return m, waitForRecord(m.records)

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case watchTickMsg:
		m.activity = append(m.activity, m.tickOutput)
		if len(m.activity) > watchSparklineWidth {
			m.activity = m.activity[1:]
		}
		m.tickOutput = 0
		return m, watchTick()
	}
	return m, nil
}

func (m *watchModel) apply(rec sidecar.Record) {
	switch rec.Kind {
	case "transition":
		var p sidecar.TransitionPayload
		if err := unmarshalPayload(rec, &p); err == nil {
			m.phases = append(m.phases, p.To)
			m.currentPhase = p.To
		}
	case "graph_snapshot":
		var p sidecar.GraphSnapshotPayload
		if err := unmarshalPayload(rec, &p); err == nil {
			m.waveIndex = p.WaveIndex
			m.waveTasks = p.TaskIDs
		}
	case "child_output":
		var p sidecar.ChildOutputPayload
		if err := unmarshalPayload(rec, &p); err == nil {
			m.tickOutput++
			m.outputTail = append(m.outputTail, fmt.Sprintf("%s │ %s", p.TaskID, p.Line))
			if len(m.outputTail) > watchTailLines {
				m.outputTail = m.outputTail[1:]
			}
		}
	}
}

func unmarshalPayload(rec sidecar.Record, v any) error {
	return json.Unmarshal(rec.Payload, v)
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchHeaderStyle.Render("bridgeorch watch"))
	b.WriteString(" " + watchDimStyle.Render(m.path))
	if m.closed {
		b.WriteString(" " + watchDimStyle.Render("(stream closed)"))
	}
	b.WriteString("\n")

	b.WriteString(watchSectionStyle.Render("Phases"))
	b.WriteString("\n")
	b.WriteString(m.phaseProgress.ViewAs(float64(len(uniquePhases(m.phases))) / totalPhases))
	b.WriteString("\n")
	b.WriteString(watchLabelStyle.Render("history: "))
	b.WriteString(watchValueStyle.Render(strings.Join(m.phases, " → ")))
	b.WriteString("\n")

	b.WriteString(watchSectionStyle.Render("Delegation"))
	b.WriteString("\n")
	b.WriteString(watchLabelStyle.Render(fmt.Sprintf("wave %d: ", m.waveIndex)))
	if len(m.waveTasks) == 0 {
		b.WriteString(watchDimStyle.Render("no snapshot yet"))
	} else {
		b.WriteString(watchValueStyle.Render(strings.Join(m.waveTasks, ", ")))
	}
	b.WriteString("\n")

	b.WriteString(watchSectionStyle.Render("Child output (lines/s)"))
	b.WriteString("\n")
	b.WriteString(m.renderActivity())
	b.WriteString("\n")
	for _, line := range m.outputTail {
		b.WriteString(watchDimStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString(watchFooterStyle.Render("q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) renderActivity() string {
	if len(m.activity) == 0 {
		return watchDimStyle.Render(fmt.Sprintf("%*s", watchSparklineWidth, "no data"))
	}
	spark := sparkline.New(watchSparklineWidth, watchSparklineHeight)
	for _, v := range m.activity {
		spark.Push(v)
	}
	return watchSparkStyle.Render(spark.View())
}

func uniquePhases(phases []string) []string {
	seen := make(map[string]bool, len(phases))
	var out []string
	for _, p := range phases {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
