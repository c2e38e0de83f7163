package domain

import (
	"fmt"
	"html"
	"strings"

	sharedDomain "github.com/sakashimaa/freshsave/pkg/domain"
)

// Email is one rendered message ready for the SMTP sender.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// DiscountAlertEmail renders the alert. actionURL is resolved against baseURL
// when it is relative.
func DiscountAlertEmail(event sharedDomain.DiscountAlertEvent, baseURL string) Email {
	link := event.ActionURL
	if strings.HasPrefix(link, "/") {
		link = strings.TrimRight(baseURL, "/") + link
	}

	greeting := "Hi"
	if event.RecipientName != "" {
		greeting = "Hi " + html.EscapeString(event.RecipientName)
	}

	body := fmt.Sprintf(`
		<h1>%s</h1>
		<p>%s,</p>
		<p>%s</p>
		<a href="%s">View deal</a>
	`, html.EscapeString(event.Title), greeting, html.EscapeString(event.Message), html.EscapeString(link))

	return Email{
		To:      event.RecipientEmail,
		Subject: event.Title,
		HTML:    body,
	}
}
