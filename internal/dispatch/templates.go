package dispatch

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/notify"
)

// emailData is the context every email template renders against.
type emailData struct {
	Event      events.Event
	Org        *models.Organization
	Checkpoint *models.Checkpoint
}

const emailShell = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; color: #222; }
        .header { background-color: #1a73e8; color: white; padding: 20px; border-radius: 5px; }
        .body { padding: 15px 0; }
        .metric { background-color: #f5f5f5; padding: 12px; margin: 8px 0; border-radius: 5px; }
        .metric strong { display: inline-block; min-width: 180px; }
        .action { border-left: 4px solid #1a73e8; padding: 10px; margin: 12px 0; background-color: #fafafa; }
        .footer { color: #666; font-size: 0.85em; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.Title}}</h1></div>
    <div class="body">{{.Body}}</div>
    <hr>
    <p class="footer">You are receiving this because alerts are enabled for {{.OrgName}}. Manage notification preferences in your dashboard.</p>
</body>
</html>
`

var bodyTemplates = map[events.Type]*template.Template{
	events.TypeNewCitation: template.Must(template.New("new-citation").Parse(`
<p><strong>{{.Event.Platform}}</strong> started citing <strong>{{.Event.Domain}}</strong> when answering questions in your category.</p>
<div class="metric"><strong>Platform</strong> {{.Event.Platform}}</div>
<div class="metric"><strong>Site</strong> {{.Event.Domain}}</div>
<p>This is the first time this platform has recommended your site. Keep the content it cited fresh to hold the position.</p>`)),

	events.TypeVisibilityDrop: template.Must(template.New("visibility-drop").Parse(`
<p>Queries won by <strong>{{.Event.Domain}}</strong> dropped from {{.Event.Previous}} to {{.Event.Current}}.</p>
<div class="metric"><strong>Previous</strong> {{.Event.Previous}} queries won</div>
<div class="metric"><strong>Current</strong> {{.Event.Current}} queries won</div>
<div class="metric"><strong>Drop</strong> {{.Event.Delta}}</div>
<div class="action">Review the queries you stopped winning and refresh the content answering them.</div>`)),

	events.TypeCompetitorGain: template.Must(template.New("competitor-gain").Parse(`
<p>Your competitor <strong>{{.Event.Competitor}}</strong> gained {{.Event.Delta}} new citations in scans of <strong>{{.Event.Domain}}</strong>'s market.</p>
<div class="metric"><strong>Competitor</strong> {{.Event.Competitor}}</div>
<div class="metric"><strong>New citations</strong> {{.Event.Delta}}</div>
<div class="metric"><strong>Their total</strong> {{.Event.Current}}</div>
<div class="action">Check what content is earning them these citations and close the gap.</div>`)),

	events.TypeMonthlyReport: template.Must(template.New("monthly-report").Parse(`
<p>Here is how <strong>{{.Event.Domain}}</strong> performed in {{.Event.Period}}.</p>
<div class="metric"><strong>Momentum score</strong> {{.Checkpoint.MomentumScore}}/100</div>
<div class="metric"><strong>Change vs last month</strong> {{if ge .Checkpoint.MomentumChange 0}}+{{end}}{{.Checkpoint.MomentumChange}}{{if .FirstMonth}} (new baseline){{end}}</div>
<div class="metric"><strong>Queries won</strong> {{.Checkpoint.QueriesWon}}</div>
<div class="metric"><strong>Queries lost</strong> {{.Checkpoint.QueriesLost}}</div>
<div class="metric"><strong>Competitors gaining</strong> {{.Checkpoint.CompetitorsGaining}}</div>
<div class="action">{{.Checkpoint.RecommendedAction}}</div>`)),
}

var shellTemplate = template.Must(template.New("shell").Parse(emailShell))

// subject builds the subject line per event class.
func subject(ev events.Event) string {
	switch ev.Type {
	case events.TypeNewCitation:
		return fmt.Sprintf("New citation: %s is now citing %s", ev.Platform, ev.Domain)
	case events.TypeVisibilityDrop:
		return fmt.Sprintf("Visibility drop for %s: %d queries lost", ev.Domain, ev.Delta)
	case events.TypeCompetitorGain:
		return fmt.Sprintf("Competitor alert: %s gained %d citations", ev.Competitor, ev.Delta)
	case events.TypeMonthlyReport:
		return fmt.Sprintf("Your %s visibility report for %s", ev.Domain, ev.Period)
	default:
		return fmt.Sprintf("Citewatch alert for %s", ev.Domain)
	}
}

// Email renders the full message for one event. cp is only consulted for
// monthly reports.
func Email(ev events.Event, org *models.Organization, cp *models.Checkpoint) (notify.Message, error) {
	body, ok := bodyTemplates[ev.Type]
	if !ok {
		return notify.Message{}, fmt.Errorf("no template for event type %s", ev.Type)
	}

	data := struct {
		emailData
		FirstMonth bool
	}{
		emailData:  emailData{Event: ev, Org: org, Checkpoint: cp},
		FirstMonth: cp != nil && cp.MomentumChange == cp.MomentumScore,
	}

	var bodyBuf bytes.Buffer
	if err := body.Execute(&bodyBuf, data); err != nil {
		return notify.Message{}, fmt.Errorf("render body: %w", err)
	}

	var htmlBuf bytes.Buffer
	err := shellTemplate.Execute(&htmlBuf, map[string]any{
		"Title":   subject(ev),
		"Body":    template.HTML(bodyBuf.String()),
		"OrgName": org.Name,
	})
	if err != nil {
		return notify.Message{}, fmt.Errorf("render shell: %w", err)
	}

	return notify.Message{
		To:      org.ContactEmail,
		Subject: subject(ev),
		HTML:    htmlBuf.String(),
		Text:    emailText(ev, cp),
	}, nil
}

// emailText is the plain-text alternative body.
func emailText(ev events.Event, cp *models.Checkpoint) string {
	var b strings.Builder

	b.WriteString(subject(ev))
	b.WriteString("\n\n")

	switch ev.Type {
	case events.TypeNewCitation:
		fmt.Fprintf(&b, "%s started citing %s when answering category questions.\n", ev.Platform, ev.Domain)
	case events.TypeVisibilityDrop:
		fmt.Fprintf(&b, "Queries won by %s dropped from %d to %d (drop of %d).\n", ev.Domain, ev.Previous, ev.Current, ev.Delta)
	case events.TypeCompetitorGain:
		fmt.Fprintf(&b, "Competitor %s gained %d citations (total %d) in %s's market.\n", ev.Competitor, ev.Delta, ev.Current, ev.Domain)
	case events.TypeMonthlyReport:
		if cp != nil {
			fmt.Fprintf(&b, "Momentum score: %d/100\n", cp.MomentumScore)
			fmt.Fprintf(&b, "Change vs last month: %+d\n", cp.MomentumChange)
			fmt.Fprintf(&b, "Queries won: %d\n", cp.QueriesWon)
			fmt.Fprintf(&b, "Queries lost: %d\n", cp.QueriesLost)
			fmt.Fprintf(&b, "Competitors gaining: %d\n", cp.CompetitorsGaining)
			fmt.Fprintf(&b, "\nRecommended action: %s\n", cp.RecommendedAction)
		}
	}

	b.WriteString("\n---\nManage notification preferences in your dashboard.\n")
	return b.String()
}

// ChatCard builds the summarized secondary-channel payload.
func ChatCard(ev events.Event) notify.MessageCard {
	card := notify.MessageCard{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   subject(ev),
	}

	var facts []notify.CardFact
	switch ev.Type {
	case events.TypeNewCitation:
		card.Text = fmt.Sprintf("%s is now citing %s", ev.Platform, ev.Domain)
		facts = []notify.CardFact{
			{Name: "Site", Value: ev.Domain},
			{Name: "Platform", Value: ev.Platform},
		}
	case events.TypeVisibilityDrop:
		card.Text = fmt.Sprintf("%s lost visibility: %d -> %d queries won", ev.Domain, ev.Previous, ev.Current)
		facts = []notify.CardFact{
			{Name: "Site", Value: ev.Domain},
			{Name: "Drop", Value: fmt.Sprintf("%d", ev.Delta)},
		}
	case events.TypeCompetitorGain:
		card.Text = fmt.Sprintf("%s gained %d citations in %s's market", ev.Competitor, ev.Delta, ev.Domain)
		facts = []notify.CardFact{
			{Name: "Competitor", Value: ev.Competitor},
			{Name: "New citations", Value: fmt.Sprintf("%d", ev.Delta)},
		}
	case events.TypeMonthlyReport:
		card.Text = fmt.Sprintf("The %s monthly report for %s is out", ev.Period, ev.Domain)
		facts = []notify.CardFact{
			{Name: "Site", Value: ev.Domain},
			{Name: "Period", Value: ev.Period},
		}
	}

	if len(facts) > 0 {
		card.Sections = []notify.CardSection{{Facts: facts, Markdown: true}}
	}

	return card
}
