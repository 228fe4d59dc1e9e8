// Package cli renders command output for the nestelia CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/server"
	"github.com/hyperjump/nestelia/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

var (
	heading = color.New(color.FgCyan, color.Bold)
	label   = color.New(color.Faint)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
)

// SetColor forces colored text output on or off. By default color is used only on terminals.
func SetColor(enabled bool) {
	color.NoColor = !enabled
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteStatus writes the proxy status in the given format.
func WriteStatus(w io.Writer, status *server.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}

	reg := status.Registration
	state := string(reg.State)
	switch reg.State {
	case offline.StateActive:
		state = good.Sprint(state)
	case offline.StateWaiting:
		state = warn.Sprint(state)
	default:
		state = bad.Sprint(state)
	}
	conn := good.Sprint("online")
	if !status.Online {
		conn = bad.Sprint("offline")
	}

	heading.Fprintln(w, "# registration")
	fmt.Fprintf(w, "state:              %s\n", state)
	if reg.Active != "" {
		fmt.Fprintf(w, "active:             %s\n", reg.Active)
	}
	if reg.Waiting != "" {
		fmt.Fprintf(w, "waiting:            %s\n", warn.Sprint(reg.Waiting))
	}
	fmt.Fprintf(w, "connectivity:       %s\n", conn)
	fmt.Fprintf(w, "backend:            %s\n", status.Backend)
	if status.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   %s\n", status.DiskUsageBytes, label.Sprint("# storage + index on disk"))
	}
	if status.IndexedPages > 0 {
		fmt.Fprintf(w, "indexed_pages:      %d\n", status.IndexedPages)
	}

	fmt.Fprintln(w)
	heading.Fprintln(w, "# partitions")
	if len(status.Partitions) == 0 {
		fmt.Fprintln(w, label.Sprint("(none)"))
	}
	for _, p := range status.Partitions {
		marker := " "
		if p.Current {
			marker = good.Sprint("*")
		}
		fmt.Fprintf(w, "%s %-32s %d\n", marker, p.Name, p.Entries)
	}

	st := status.Stats
	fmt.Fprintln(w)
	heading.Fprintln(w, "# stats")
	fmt.Fprintf(w, "hits:               %d\n", st.Hits)
	fmt.Fprintf(w, "misses:             %d\n", st.Misses)
	fmt.Fprintf(w, "fallbacks:          %d\n", st.Fallbacks)
	fmt.Fprintf(w, "network:            %d fetched, %d failed\n", st.NetworkFetches, st.NetworkFailures)
	fmt.Fprintf(w, "revalidations:      %d (%d failed)\n", st.Revalidations, st.RevalidationFailures)
	fmt.Fprintf(w, "precached:          %d (%d failed)\n", st.Precached, st.PrecacheFailures)
	fmt.Fprintf(w, "bypassed:           %d\n", st.Bypassed)
	fmt.Fprintf(w, "not stored:         %d retired, %d private\n", st.DroppedWrites, st.PrivateResponses)
	return nil
}

// WriteSearchResults writes offline search results in the given format.
func WriteSearchResults(w io.Writer, resp *server.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", resp.Total, resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		title := r.Title
		if title == "" {
			title = r.URL
		}
		heading.Fprintf(w, "%d. %s", i+1, title)
		fmt.Fprintf(w, "  %s\n", label.Sprintf("score %.4f", r.Score))
		fmt.Fprintf(w, "%s\n", r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(r.Snippet, 200))
		}
		fmt.Fprintln(w)
	}
	if resp.Total == 0 && resp.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean %s?\n", warn.Sprintf("%q", resp.Suggestion))
	}
	return nil
}

// WriteAnswer writes a completed answer in the given format. In text mode the answer
// itself is expected to have been streamed already, so only the sources are listed.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat, streamed bool) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if !streamed {
		fmt.Fprintln(w, resp.Answer)
	}
	fmt.Fprintln(w)
	label.Fprintf(w, "answered in %dms", resp.ProcessingTimeMs)
	fmt.Fprintln(w)
	if len(resp.RelevantChunks) == 0 {
		return nil
	}
	heading.Fprintln(w, "Sources")
	for _, c := range resp.RelevantChunks {
		fmt.Fprintf(w, "  - %s %s\n", c.FileName, label.Sprintf("(%.0f%%)", c.Similarity*100))
	}
	return nil
}

// WriteRegistration writes the outcome of a registration or activation.
func WriteRegistration(w io.Writer, reg offline.Registration) {
	switch reg.State {
	case offline.StateActive:
		fmt.Fprintf(w, "%s generation %s is active\n", good.Sprint("✓"), reg.Active)
	case offline.StateWaiting:
		fmt.Fprintf(w, "%s generation %s installed and waiting (active: %s)\n", warn.Sprint("…"), reg.Waiting, reg.Active)
	default:
		fmt.Fprintf(w, "%s no generation controls requests\n", bad.Sprint("✗"))
	}
}
