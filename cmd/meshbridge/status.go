// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/meshbridge/bridge"
	"github.com/bureau-foundation/meshbridge/lib/service"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

const statusTimeout = 10 * time.Second

func runStatus(args []string, std streams) error {
	var socketPath, configPath string
	flagSet := pflag.NewFlagSet("meshbridge status", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVarP(&socketPath, "socket", "s", "", "control socket (default: control.socket_path from the config)")
	flagSet.StringVarP(&configPath, "config", "c", "", "config file to read the socket path from")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return configError("%w", err)
	}

	if socketPath == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		socketPath = cfg.Control.SocketPath
		if socketPath == "" {
			return configError("control.socket_path is not set; pass --socket or enable the control socket")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	client := service.NewClient(socketPath)
	var status bridge.Status
	if err := client.Call(ctx, bridge.ActionStatus, nil, &status); err != nil {
		return fmt.Errorf("querying bridge status: %w", err)
	}
	var stats bridge.Stats
	if err := client.Call(ctx, bridge.ActionStats, nil, &stats); err != nil {
		return fmt.Errorf("querying bridge statistics: %w", err)
	}

	renderStatus(std.stdout, status, stats)
	return nil
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("245"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateStyles = map[string]lipgloss.Style{
		supervisor.Connected.String():    lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		supervisor.Connecting.String():   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		supervisor.Backoff.String():      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		supervisor.Disconnected.String(): lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		supervisor.Fatal.String():        lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
)

func renderStatus(w io.Writer, status bridge.Status, stats bridge.Stats) {
	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}

	lines := []string{
		headingStyle.Render("meshbridge " + status.Version),
		row("up", status.Uptime.Truncate(time.Second).String()+faintStyle.Render(" since "+status.StartedAt.Format(time.RFC3339))),
		"",
		headingStyle.Render("Links"),
	}
	for _, link := range status.Links {
		style, ok := stateStyles[link.State]
		if !ok {
			style = lipgloss.NewStyle()
		}
		value := style.Render(link.State)
		if link.Attempt > 0 {
			value += faintStyle.Render(" attempt " + strconv.Itoa(link.Attempt))
		}
		if link.LastError != "" {
			value += faintStyle.Render("  last error: " + link.LastError)
		}
		lines = append(lines, row(link.Name, value))
	}

	lines = append(lines,
		"",
		headingStyle.Render("Traffic"),
		row("mesh received", formatCount(stats.MeshReceived)),
		row("forwarded to discord", formatCount(stats.ForwardedToChat)),
		row("discord received", formatCount(stats.ChatReceived)),
		row("forwarded to mesh", formatCount(stats.ForwardedToMesh)),
		row("truncated", formatCount(stats.Truncated)),
		row("send errors", formatCount(stats.SendErrors)),
	)

	reasons := make([]string, 0, len(stats.Dropped))
	for reason, count := range stats.Dropped {
		if count > 0 {
			reasons = append(reasons, string(reason))
		}
	}
	slices.Sort(reasons)
	if len(reasons) > 0 {
		lines = append(lines, "", headingStyle.Render("Dropped"))
		for _, reason := range reasons {
			lines = append(lines, row(reason, formatCount(stats.Dropped[bridge.DropReason(reason)])))
		}
	}

	if mesh := stats.Mesh; mesh != nil {
		lines = append(lines,
			"",
			headingStyle.Render("Mesh frames"),
			row("received", formatCount(mesh.FramesReceived)),
			row("decoded", formatCount(mesh.FramesDecoded)),
			row("malformed", formatCount(mesh.FramesMalformed)),
			row("duplicate", formatCount(mesh.FramesDuplicate)),
			row("sent", formatCount(mesh.FramesSent)),
		)
	}
	if gateway := stats.Gateway; gateway != nil {
		lines = append(lines,
			"",
			headingStyle.Render("Discord gateway"),
			row("sessions", formatCount(gateway.SessionsOpened)),
			row("resumes", formatCount(gateway.Resumes)),
			row("messages received", formatCount(gateway.MessagesReceived)),
			row("messages ignored", formatCount(gateway.MessagesIgnored)),
		)
	}

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func formatCount(count uint64) string {
	return strconv.FormatUint(count, 10)
}
