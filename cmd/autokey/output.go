package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/scheduler"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// formatClock renders d as HH:MM:SS
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

func severityColor(s scheduler.Severity) *color.Color {
	switch s {
	case scheduler.SeverityOK:
		return color.New(color.FgGreen, color.Bold)
	case scheduler.SeverityWarn:
		return color.New(color.FgYellow, color.Bold)
	case scheduler.SeverityError:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

func authColor(s auth.Status) *color.Color {
	switch s {
	case auth.Verified:
		return color.New(color.FgGreen, color.Bold)
	case auth.Pending:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// printNotice renders a notice the operator has to see
func printNotice(w io.Writer, message string, severity scheduler.Severity) {
	c := severityColor(severity)
	fmt.Fprintln(w)
	_, _ = c.Fprintln(w, rule)
	_, _ = c.Fprintln(w, "NOTICE")
	_, _ = c.Fprintln(w, rule)
	fmt.Fprintln(w, message)
	_, _ = c.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// deadlineText describes the authorization deadline; "unlimited" only once a
// verdict without one has arrived.
func deadlineText(snap scheduler.Snapshot) string {
	switch {
	case snap.Deadline != "":
		return snap.Deadline
	case snap.Authorization == auth.Pending:
		return "fetching"
	default:
		return "unlimited"
	}
}

// printSnapshot prints the status dump with colors
func printSnapshot(snap scheduler.Snapshot) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println()
	cyan.Println(rule)
	cyan.Println("AUTOKEY STATUS")
	cyan.Println(rule)
	fmt.Println()

	fmt.Printf("Time:       %s\n", snap.Now.Local().Format("2006-01-02 15:04:05"))

	fmt.Print("State:      ")
	if snap.Running {
		green.Println("RUNNING")
	} else {
		yellow.Println("STOPPED")
	}

	fmt.Printf("Actions:    %d\n", snap.ActionCount)
	fmt.Printf("Run time:   %s\n", formatClock(snap.Elapsed))

	if snap.AutoStopArmed {
		fmt.Printf("Auto-stop:  armed (%s left)\n", formatClock(snap.AutoStopRemaining))
	} else {
		fmt.Println("Auto-stop:  not armed")
	}

	fmt.Print("Auth:       ")
	authColor(snap.Authorization).Println(snap.Authorization.StatusLine())

	fmt.Printf("Deadline:   %s\n", deadlineText(snap))

	fmt.Print("Status:     ")
	severityColor(snap.Severity).Println(snap.Status)

	fmt.Println()
	cyan.Println(rule)
	fmt.Println()
}

// printVerdict prints an authorization verdict with colors
func printVerdict(v auth.Verdict) {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	cyan.Println(rule)
	cyan.Println("AUTHORIZATION CHECK")
	cyan.Println(rule)
	fmt.Println()

	fmt.Print("Result:     ")
	authColor(v.Status).Println(v.Status.StatusLine())

	if v.DeadlineText != "" {
		fmt.Printf("Deadline:   %s\n", v.DeadlineText)
	}
	if v.Notice != "" {
		fmt.Printf("Notice:     %s\n", v.Notice)
	}
	if v.Detail != "" {
		fmt.Printf("Detail:     %s\n", v.Detail)
	}

	fmt.Println()
	cyan.Println(rule)
	fmt.Println()

	if notice := v.BlockingNotice(); notice != "" {
		printNotice(os.Stderr, notice, scheduler.SeverityError)
	}
}
