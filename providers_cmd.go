package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dacbuione/chinese-learning-sub000/internal/speech"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Short:   "List synthesis providers in fallback order",
	Long:    paragraph(fmt.Sprintf("\n%s the configured providers in the order they are tried, with their capabilities and whether they can be used right now.", keyword("List"))),
	Example: paragraph("tingshuo providers\ntingshuo providers --config ci.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, core, cleanup, err := openCore(cmd, speech.Needs{})
		if err != nil {
			return err
		}
		defer cleanup()

		statuses := core.Providers(ctx)
		if len(statuses) == 0 {
			fmt.Println(faint.Render("No providers are enabled. Run tingshuo config to enable one."))
			return nil
		}
		fmt.Println(providerTable(statuses))
		return nil
	},
}

func providerTable(statuses []engines.ProviderStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Priority),
			providerKind(s),
			localeList(s),
			providerHealth(s),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(faint).
		Headers("PROVIDER", "PRIORITY", "KIND", "LOCALES", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		}).
		String()
}

func providerKind(s engines.ProviderStatus) string {
	var parts []string
	if s.Capabilities.ReturnsBytes {
		parts = append(parts, "bytes")
	} else {
		parts = append(parts, "play-only")
	}
	if s.Capabilities.SupportsMarkup {
		parts = append(parts, "markup")
	}
	if s.Capabilities.RequiresNetwork {
		parts = append(parts, "network")
	}
	return strings.Join(parts, ", ")
}

func localeList(s engines.ProviderStatus) string {
	if len(s.Capabilities.Locales) == 0 {
		return "all"
	}
	names := make([]string, len(s.Capabilities.Locales))
	for i, l := range s.Capabilities.Locales {
		names[i] = string(l)
	}
	return strings.Join(names, " ")
}

func providerHealth(s engines.ProviderStatus) string {
	switch {
	case s.CoolingDown:
		return failStyle.Render(fmt.Sprintf("cooling down (%d failures)", s.Failures))
	case !s.Available:
		return failStyle.Render("unavailable")
	case s.Failures > 0:
		return fmt.Sprintf("ok, %d recent failures", s.Failures)
	default:
		return passStyle.Render("ok")
	}
}
