package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/dsmaudit/dsmaudit/internal/control"
)

// runStatus asks a running serve daemon for its state over the control
// socket.
func runStatus(cfg appConfig) error {
	client, err := dialDaemon(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	runs, err := client.RecentRuns(5)
	if err != nil {
		return fmt.Errorf("recent runs: %w", err)
	}

	printStatus(st, runs)
	return nil
}

// runCollect asks a running serve daemon to pull the NAS logs right
// now instead of waiting for the next tick.
func runCollect(cfg appConfig) error {
	client, err := dialDaemon(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println("Collection requested, waiting for the daemon...")
	res, err := client.CollectNow()
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	printCollectResult(res)
	return nil
}

func dialDaemon(cfg appConfig) (*control.Client, error) {
	client, err := control.Dial(cfg.ControlSocket)
	if err != nil {
		return nil, fmt.Errorf("no daemon reachable at %s (is dsmaudit serve running?): %w", cfg.ControlSocket, err)
	}
	return client, nil
}

func printStatus(st control.StatusInfo, runs []archive.RunInfo) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Daemon"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Version        %s", check, dim.Render(st.Version)))
	lines = append(lines, fmt.Sprintf("    %s  PID            %s", check, dim.Render(strconv.Itoa(st.PID))))
	lines = append(lines, fmt.Sprintf("    %s  Uptime         %s", check, dim.Render(st.Uptime.String())))
	switch {
	case st.Collecting:
		lines = append(lines, fmt.Sprintf("    %s  Collection     %s", check, cyan.Render("in progress")))
	case st.FetchEvery > 0:
		lines = append(lines, fmt.Sprintf("    %s  Collection     %s", check, dim.Render("every "+st.FetchEvery.String())))
	default:
		lines = append(lines, fmt.Sprintf("    %s  Collection     %s", dot, dim.Render("on demand")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Archive"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(st.DBPath))))
	lines = append(lines, fmt.Sprintf("    %s  Records        %s", check, dim.Render(strconv.FormatInt(st.RecordCount, 10))))

	if len(runs) > 0 {
		lines = append(lines, "")
		lines = append(lines, bold.Render("    Recent Runs"))
		lines = append(lines, "")
		for _, r := range runs {
			marker := check
			if r.Status != archive.RunCompleted {
				marker = dot
			}
			when := r.StartedAt.Local().Format("2006-01-02 15:04")
			detail := fmt.Sprintf("%d system, %d filestation (%s)", r.SystemCount, r.FileCount, r.Status)
			lines = append(lines, fmt.Sprintf("    %s  %s   %s", marker, dim.Render(when), dim.Render(detail)))
		}
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func printCollectResult(res control.CollectResult) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Collection"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Run            %s", check, dim.Render(res.RunID)))
	lines = append(lines, fmt.Sprintf("    %s  System Log     %s", check, dim.Render(fmt.Sprintf("%d records", res.SystemCount))))
	lines = append(lines, fmt.Sprintf("    %s  File Station   %s", check, dim.Render(fmt.Sprintf("%d records", res.FileCount))))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}
