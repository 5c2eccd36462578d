package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Welcome to GeoNexus</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px;">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Welcome{{if .Name}}, {{.Name}}{{end}}</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Your {{.Plan}} subscription is active. Your dashboard is ready.
</p>
<a href="{{.DashboardURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px;">
Open dashboard
</a>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// WelcomeData holds template data for the welcome email.
type WelcomeData struct {
	Name         string
	Plan         string
	DashboardURL string
}

// RenderWelcomeEmail renders the post-checkout confirmation.
func RenderWelcomeEmail(data WelcomeData) (html, text string, err error) {
	if strings.TrimSpace(data.Plan) == "" {
		data.Plan = "GeoNexus"
	}
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	greeting := "Welcome"
	if data.Name != "" {
		greeting += ", " + data.Name
	}
	textBody := fmt.Sprintf("%s\n\nYour %s subscription is active. Open your dashboard: %s", greeting, data.Plan, data.DashboardURL)
	return buf.String(), textBody, nil
}
