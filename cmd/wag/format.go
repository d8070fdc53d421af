package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/czcorpus/wag-sub001/internal/api"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatYAML formats the response as YAML. The value goes through JSON
// first so the field names follow the json tags.
func formatYAML(resp interface{}) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("failed to normalize response: %w", err)
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *dashboard.Result:
		return formatResultHuman(v)
	case *api.TilesResponse:
		return formatTilesHuman(v)
	case *backends.SourceDetails:
		return formatSourceHuman(v)
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func phaseIcon(p tiles.Phase) string {
	switch p {
	case tiles.PhaseReady:
		return "✓"
	case tiles.PhaseErrored:
		return "✗"
	default:
		return "…"
	}
}

// formatResultHuman formats a search result in human-readable format
func formatResultHuman(res *dashboard.Result) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Word at a Glance: %s (%s)\n", strings.Join(res.Queries, " vs. "), res.QueryType))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for i, variants := range res.Matches {
		if len(variants) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("Query %d variants:\n", i+1))
		for j, m := range variants {
			marker := " "
			if m.IsCurrent {
				marker = "*"
			}
			if m.IsNonDict {
				b.WriteString(fmt.Sprintf("  %s %d. %s (not in dictionary)\n", marker, j, m.Word))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s %d. %s [%s] %.2f ipm\n", marker, j, m.Lemma, m.PosLabel(), m.IPM))
		}
	}
	b.WriteString("\n")

	b.WriteString("Tiles:\n")
	for _, t := range res.Tiles {
		b.WriteString(fmt.Sprintf("  %s [%d] %s (%s): %s", phaseIcon(t.Phase), t.ID, t.Name, t.Type, t.Phase))
		switch {
		case t.Error != "":
			b.WriteString(" - " + t.Error)
		case t.IsEmpty && t.Phase == tiles.PhaseReady:
			b.WriteString(" - no data")
		}
		b.WriteString("\n")
	}

	if len(res.Messages) > 0 {
		b.WriteString("\nMessages:\n")
		for _, m := range res.Messages {
			b.WriteString(fmt.Sprintf("  ! %s: %s\n", m.Type, m.Text))
		}
	}
	if !res.Complete {
		b.WriteString("\nSearch timed out before every tile finished.\n")
	}
	b.WriteString(fmt.Sprintf("\nRound %d, session %s\n", res.Round, res.SessionID))

	return b.String(), nil
}

// formatTilesHuman formats a layout in human-readable format
func formatTilesHuman(resp *api.TilesResponse) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Layout: %s\n", resp.QueryType))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for _, t := range resp.Tiles {
		b.WriteString(fmt.Sprintf("  [%d] %s (%s)\n", t.ID, t.Name, t.Type))
		if len(t.WaitFor) > 0 {
			b.WriteString(fmt.Sprintf("      waits for: %s\n", joinInts(t.WaitFor)))
		}
		if len(t.SubqSources) > 0 {
			b.WriteString(fmt.Sprintf("      reads subqueries of: %s\n", joinInts(t.SubqSources)))
		}
	}
	b.WriteString(fmt.Sprintf("\nKnown tile types: %s\n", strings.Join(resp.TileTypes, ", ")))

	return b.String(), nil
}

// formatSourceHuman formats a data source description
func formatSourceHuman(s *backends.SourceDetails) (string, error) {
	var b strings.Builder

	b.WriteString(s.Title + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	if s.CorpusName != "" {
		b.WriteString(fmt.Sprintf("Corpus: %s\n", s.CorpusName))
	}
	if s.Size > 0 {
		b.WriteString(fmt.Sprintf("Size: %d tokens\n", s.Size))
	}
	if s.Description != "" {
		b.WriteString("\n" + s.Description + "\n")
	}
	if s.Citation != "" {
		b.WriteString(fmt.Sprintf("\nCitation: %s\n", s.Citation))
	}
	if s.Href != "" {
		b.WriteString(fmt.Sprintf("More: %s\n", s.Href))
	}
	return b.String(), nil
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
