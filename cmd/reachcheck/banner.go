package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/danialdehvan/ReachCheck/pkg/netinfo"
	"github.com/danialdehvan/ReachCheck/pkg/server"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")). // White text
			Background(lipgloss.Color("57")). // Purple background
			Padding(0, 1).
			MarginTop(1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("57")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13")) // Bright magenta

	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

// renderReport formats a diagnostic snapshot for the console. With port > 0
// it also lists the URLs a phone should try.
func renderReport(snap server.InfoSnapshot, port int) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ReachCheck"))
	b.WriteString("\n")

	var addrs strings.Builder
	if len(snap.LocalAddresses) == 0 {
		addrs.WriteString(badStyle.Render("no local addresses found"))
	}
	for i, a := range snap.LocalAddresses {
		if i > 0 {
			addrs.WriteString("\n")
		}
		line := fmt.Sprintf("%-15s  %s", a.IP, a.ConnectionType)
		if a.Interface != "" {
			line += "  (" + a.Interface + ")"
		}
		if port > 0 {
			line += fmt.Sprintf("\n  http://%s:%d/", a.IP, port)
		}
		addrs.WriteString(line)
	}
	b.WriteString(card("Local addresses", addrs.String()))

	var netw strings.Builder
	if snap.Gateway != nil {
		switch {
		case snap.Gateway.Error != "":
			fmt.Fprintf(&netw, "%s %s\n", labelStyle.Render("Gateway:"), warnStyle.Render(snap.Gateway.Error))
		case snap.Gateway.Reachable:
			fmt.Fprintf(&netw, "%s %s %s\n", labelStyle.Render("Gateway:"), snap.Gateway.Address, goodStyle.Render("reachable"))
		default:
			fmt.Fprintf(&netw, "%s %s %s\n", labelStyle.Render("Gateway:"), snap.Gateway.Address, badStyle.Render("no reply"))
		}
	}
	if snap.Firewall != nil {
		status := badStyle.Render("missing")
		switch {
		case snap.Firewall.Error != "":
			status = warnStyle.Render(snap.Firewall.Error)
		case snap.Firewall.Exists:
			status = goodStyle.Render("present")
		}
		fmt.Fprintf(&netw, "%s %q %s\n", labelStyle.Render("Firewall rule:"), snap.Firewall.Name, status)
	}
	if snap.PublicEndpoint != "" {
		fmt.Fprintf(&netw, "%s %s\n", labelStyle.Render("Public endpoint:"), snap.PublicEndpoint)
	} else if snap.StunError != "" {
		fmt.Fprintf(&netw, "%s %s\n", labelStyle.Render("Public endpoint:"), warnStyle.Render("unavailable"))
	}
	for _, d := range snap.WireGuard {
		fmt.Fprintf(&netw, "%s %s port %d, %d peers\n", labelStyle.Render("WireGuard:"), d.Name, d.ListenPort, d.Peers)
	}
	if netw.Len() > 0 {
		b.WriteString(card("Network", strings.TrimRight(netw.String(), "\n")))
	}

	var advice strings.Builder
	fmt.Fprintf(&advice, "%s %s", labelStyle.Render("Verdict:"), verdictStyle(snap.Verdict).Render(snap.Verdict))
	for _, r := range snap.Recommendations {
		advice.WriteString("\n- " + r)
	}
	b.WriteString(card("Assessment", advice.String()))

	return b.String()
}

func card(title, body string) string {
	return "\n" + cardStyle.Render(labelStyle.Render(title)+"\n"+body) + "\n"
}

func verdictStyle(verdict string) lipgloss.Style {
	switch verdict {
	case netinfo.VerdictReady.String():
		return goodStyle
	case netinfo.VerdictUnknown.String():
		return warnStyle
	default:
		return badStyle
	}
}
