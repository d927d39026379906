// Package report turns a simulation trace into a markdown coverage report
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/bluemesh/tracestore"
	"github.com/user/bluemesh/util"
)

// Issue is a problem found in the trace
type Issue struct {
	Severity    string // "ERROR" or "WARNING"
	Message     string // short message id
	Node        string
	Description string
}

// MessageCoverage is the spread of one message
type MessageCoverage struct {
	tracestore.Coverage
	Reached map[string]bool
}

// Report is the coverage of every message sent during a run
type Report struct {
	Generated time.Time
	Nodes     []string
	Messages  []MessageCoverage
	Issues    []Issue
}

// Build reads every send from store and checks which of nodes delivered it.
// A node that is neither the origin nor a recipient is reported missing.
func Build(store *tracestore.Store, nodes []string) (*Report, error) {
	sends, err := store.Messages()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	r := &Report{
		Generated: time.Now(),
		Nodes:     append([]string(nil), nodes...),
	}
	for _, send := range sends {
		c, err := store.Coverage(send.MessageID)
		if err != nil {
			return nil, fmt.Errorf("coverage of %s: %w", send.MessageID, err)
		}
		mc := MessageCoverage{Coverage: c, Reached: make(map[string]bool)}
		for _, node := range c.Nodes {
			mc.Reached[node] = true
		}
		r.Messages = append(r.Messages, mc)
		r.Issues = append(r.Issues, detectIssues(mc, nodes)...)
	}
	return r, nil
}

func detectIssues(mc MessageCoverage, nodes []string) []Issue {
	var issues []Issue
	short := util.ShortID(mc.MessageID.String())

	for _, node := range nodes {
		if node == mc.Origin || mc.Reached[node] {
			continue
		}
		issues = append(issues, Issue{
			Severity:    "ERROR",
			Message:     short,
			Node:        node,
			Description: fmt.Sprintf("%s never delivered %s from %s", node, short, mc.Origin),
		})
	}
	if mc.Reached[mc.Origin] {
		issues = append(issues, Issue{
			Severity:    "ERROR",
			Message:     short,
			Node:        mc.Origin,
			Description: fmt.Sprintf("%s delivered its own message %s", mc.Origin, short),
		})
	}
	if mc.Duplicates > 0 {
		issues = append(issues, Issue{
			Severity:    "WARNING",
			Message:     short,
			Description: fmt.Sprintf("%s was delivered %d extra times", short, mc.Duplicates),
		})
	}
	return issues
}

// Expected returns the number of deliveries a perfect flood would make
func (r *Report) Expected() int {
	if len(r.Nodes) == 0 {
		return 0
	}
	return len(r.Messages) * (len(r.Nodes) - 1)
}

// Delivered returns the number of first deliveries to nodes other than the origin
func (r *Report) Delivered() int {
	total := 0
	for _, m := range r.Messages {
		for node := range m.Reached {
			if node != m.Origin {
				total++
			}
		}
	}
	return total
}

// Errors returns the number of ERROR issues
func (r *Report) Errors() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == "ERROR" {
			n++
		}
	}
	return n
}

// Render writes the report as markdown
func (r *Report) Render(w io.Writer) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Mesh Coverage Report: %s\n\n", r.Generated.Format("2006-01-02 15:04:05")))

	sb.WriteString("## Messages\n\n")
	if len(r.Messages) == 0 {
		sb.WriteString("No messages were sent.\n\n")
	}
	for _, m := range r.Messages {
		sb.WriteString(fmt.Sprintf("- **%s** from %s (ttl %d): %q - reached %d/%d, latency %s\n",
			util.ShortID(m.MessageID.String()), m.Origin, m.TimeToLive, m.Text,
			len(m.Reached), max(len(r.Nodes)-1, 0), m.Latency.Round(time.Millisecond)))
	}
	sb.WriteString("\n")

	if len(r.Messages) > 0 {
		sb.WriteString("## Delivery Matrix\n\n")
		sb.WriteString("| message |")
		for _, node := range r.Nodes {
			sb.WriteString(fmt.Sprintf(" %s |", node))
		}
		sb.WriteString("\n|---------|")
		for range r.Nodes {
			sb.WriteString("------|")
		}
		sb.WriteString("\n")

		for _, m := range r.Messages {
			sb.WriteString(fmt.Sprintf("| **%s** |", util.ShortID(m.MessageID.String())))
			for _, node := range r.Nodes {
				switch {
				case node == m.Origin:
					sb.WriteString(" ✅ Origin |")
				case m.Reached[node]:
					sb.WriteString(" ✅ Recv |")
				default:
					sb.WriteString(" ❌ MISSING |")
				}
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(r.Issues) > 0 {
		sb.WriteString("## Issues\n\n")
		for i, issue := range r.Issues {
			sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, issue.Severity, issue.Description))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("## ✅ Full Coverage\n\n")
		sb.WriteString("Every node delivered every message exactly once.\n\n")
	}

	expected, delivered := r.Expected(), r.Delivered()
	rate := 0.0
	if expected > 0 {
		rate = float64(delivered) / float64(expected) * 100.0
	}
	sb.WriteString("## Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Nodes:** %d\n", len(r.Nodes)))
	sb.WriteString(fmt.Sprintf("- **Messages:** %d\n", len(r.Messages)))
	sb.WriteString(fmt.Sprintf("- **Expected deliveries:** %d\n", expected))
	sb.WriteString(fmt.Sprintf("- **Deliveries:** %d\n", delivered))
	sb.WriteString(fmt.Sprintf("- **Coverage:** %.1f%%\n", rate))

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteFile renders the report to dir/coverage_report_<timestamp>.md and
// returns the path
func (r *Report) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("coverage_report_%s.md", r.Generated.Format("2006-01-02_15-04-05")))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := r.Render(f); err != nil {
		return "", err
	}
	return path, nil
}
