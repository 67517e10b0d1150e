package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/citewatch/citewatch/internal/dispatch"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
)

const outputDir = "preview_output"

func main() {
	fmt.Println("📧 Citewatch - Notification Preview")
	fmt.Println("===================================")

	org := &models.Organization{
		ID:                   1,
		Name:                 "Acme Inc",
		Plan:                 "command",
		ContactEmail:         "alerts@acme.example",
		NotifyNewCitation:    true,
		NotifyVisibilityDrop: true,
		NotifyCompetitorGain: true,
		NotifyReports:        true,
	}

	checkpoint := &models.Checkpoint{
		SiteID:             10,
		Period:             time.Now().UTC().AddDate(0, -1, 0).Format("2006-01"),
		MomentumScore:      64,
		MomentumChange:     12,
		QueriesWon:         18,
		QueriesLost:        4,
		CompetitorsGaining: 2,
		RecommendedAction:  "Steady progress. Target the platforms that are not citing you yet.",
	}

	samples := []events.Event{
		{
			Type:     events.TypeNewCitation,
			SiteID:   10,
			OrgID:    org.ID,
			Domain:   "acme.example",
			Platform: "chatgpt",
		},
		{
			Type:     events.TypeVisibilityDrop,
			SiteID:   10,
			OrgID:    org.ID,
			Domain:   "acme.example",
			Previous: 10,
			Current:  7,
			Delta:    3,
		},
		{
			Type:       events.TypeCompetitorGain,
			SiteID:     10,
			OrgID:      org.ID,
			Domain:     "acme.example",
			Competitor: "rival.example",
			Current:    14,
			Delta:      5,
		},
		{
			Type:   events.TypeMonthlyReport,
			SiteID: 10,
			OrgID:  org.ID,
			Domain: "acme.example",
			Period: checkpoint.Period,
		},
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("❌ Could not create %s: %v\n", outputDir, err)
		os.Exit(1)
	}

	for _, ev := range samples {
		fmt.Println("\n" + strings.Repeat("=", 70))
		fmt.Printf("🔔 %s\n", ev.Type)
		fmt.Println(strings.Repeat("=", 70))

		var cp *models.Checkpoint
		if ev.Type == events.TypeMonthlyReport {
			cp = checkpoint
		}

		msg, err := dispatch.Email(ev, org, cp)
		if err != nil {
			fmt.Printf("❌ Render failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("📬 To:      %s\n", msg.To)
		fmt.Printf("📝 Subject: %s\n", msg.Subject)
		fmt.Println("\n" + msg.Text)

		name := strings.ReplaceAll(string(ev.Type), "/", "_")
		htmlPath := filepath.Join(outputDir, name+".html")
		if err := os.WriteFile(htmlPath, []byte(msg.HTML), 0644); err != nil {
			fmt.Printf("⚠️  Could not save %s: %v\n", htmlPath, err)
			continue
		}
		fmt.Printf("💾 HTML saved to: %s\n", htmlPath)

		card, err := json.MarshalIndent(dispatch.ChatCard(ev), "", "  ")
		if err == nil {
			cardPath := filepath.Join(outputDir, name+".card.json")
			if err := os.WriteFile(cardPath, card, 0644); err == nil {
				fmt.Printf("💾 Chat card saved to: %s\n", cardPath)
			}
		}
	}

	fmt.Println("\n✅ Preview generation completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Printf("   • Open the files in '%s' in a browser to check the rendering\n", outputDir)
	fmt.Println("   • Run 'go test ./internal/dispatch -v' for the dispatch tests")
}
