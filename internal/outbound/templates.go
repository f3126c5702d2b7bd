package outbound

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/admissions-portal/backend/internal/models"
)

type decisionData struct {
	Name     string
	Approved bool
}

var decisionEmailTemplate = template.Must(template.New("decision").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Hello {{.Name}},</h2>
  {{if .Approved}}
  <p>We are pleased to let you know that your application has been <strong>approved</strong>.</p>
  <p>Our admissions team will contact you shortly with the next steps.</p>
  {{else}}
  <p>Thank you for your interest. After careful review, we are unable to offer you a place at this time.</p>
  <p>You are welcome to apply again in a future intake.</p>
  {{end}}
  <p>Admissions Office</p>
</body>
</html>`))

func decisionSubject(status string) string {
	if status == models.StatusApproved {
		return "Your application has been approved"
	}
	return "Update on your application"
}

func renderDecisionEmail(name, status string) (string, error) {
	var buf bytes.Buffer
	err := decisionEmailTemplate.Execute(&buf, decisionData{Name: name, Approved: status == models.StatusApproved})
	if err != nil {
		return "", fmt.Errorf("render decision email: %w", err)
	}
	return buf.String(), nil
}

// decisionText is the short form used by SMS and WhatsApp.
func decisionText(name, status string) string {
	if status == models.StatusApproved {
		return fmt.Sprintf("Hello %s, your application has been approved. We will contact you with the next steps.", name)
	}
	return fmt.Sprintf("Hello %s, thank you for applying. Unfortunately we cannot offer you a place at this time.", name)
}

// PlainText extracts the readable text of an HTML body, one block per line.
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var lines []string
	doc.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, "\n\n"), nil
}
