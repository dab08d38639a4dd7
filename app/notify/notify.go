// Package notify delivers alerts about failed job executions to webhooks and email
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/umputun/qman/app/scheduler"
)

// Service sends failure alerts to all configured destinations
type Service struct {
	destinations []notify.Notifier
	webhooks     []string
	fromEmail    string
	toEmail      []string
	host         string
}

// Params for the service
type Params struct {
	WebhookURLs    []string
	WebhookHeaders []string // "Name:value" pairs
	Timeout        time.Duration
	FromEmail      string
	ToEmails       []string
	SMTP           SMTPParams
	Host           string // host name shown in email alerts
}

// SMTPParams for email alerts
type SMTPParams struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
}

// NewService makes notification service, returns nil if no destinations configured
func NewService(p Params) *Service {
	if len(p.WebhookURLs) == 0 && len(p.ToEmails) == 0 {
		return nil
	}
	res := &Service{webhooks: p.WebhookURLs, fromEmail: p.FromEmail, toEmail: p.ToEmails, host: p.Host}
	if len(p.WebhookURLs) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{
			Timeout: p.Timeout,
			Headers: p.WebhookHeaders,
		}))
	}
	if len(p.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(notify.SMTPParams{
			Host:        p.SMTP.Host,
			Port:        p.SMTP.Port,
			TLS:         p.SMTP.TLS,
			Username:    p.SMTP.Username,
			Password:    p.SMTP.Password,
			TimeOut:     p.Timeout,
			ContentType: "text/html",
			Charset:     "UTF-8",
		}))
	}
	log.Printf("[INFO] failure alerts enabled, webhooks: %d, emails: %v", len(p.WebhookURLs), p.ToEmails)
	return res
}

// Failed sends alert about a failed execution of the job
func (s *Service) Failed(ctx context.Context, e scheduler.ExecutionLog) error {
	subj := fmt.Sprintf("qman: job %s/%s failed", e.JobGroup, e.JobName)
	text := MakeFailureText(e)
	html, err := MakeFailureHTML(e, s.host)
	if err != nil {
		log.Printf("[WARN] can't make html alert, sending text: %v", err)
		html = "<pre>" + template.HTMLEscapeString(text) + "</pre>"
	}
	return s.Send(ctx, subj, text, html)
}

// Send delivers text to webhooks and html to emails, errors of all destinations are joined
func (s *Service) Send(ctx context.Context, subj, text, html string) error {
	var errs []error
	for _, wh := range s.webhooks {
		if err := notify.Send(ctx, s.destinations, wh, text); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", wh, err))
		}
	}
	if len(s.toEmail) > 0 {
		dest := fmt.Sprintf("mailto:%s?from=%s&subject=%s", strings.Join(s.toEmail, ","),
			url.QueryEscape(s.fromEmail), url.QueryEscape(subj))
		if err := notify.Send(ctx, s.destinations, dest, html); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	return errors.Join(errs...)
}

// MakeFailureText makes plain text alert for webhooks
func MakeFailureText(e scheduler.ExecutionLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s/%s failed at %s", e.JobGroup, e.JobName, e.FireTime)
	if e.Duration > 0 {
		fmt.Fprintf(&b, " after %dms", e.Duration)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// MakeFailureHTML makes html alert for emails
func MakeFailureHTML(e scheduler.ExecutionLog, host string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold {
				color: #882828;
				font-weight: 900;
			}
		</style>
	</head>
	<body>
		<p>Scheduled job failed{{if .Host}} (reported by <span class="bold">{{.Host}}</span>){{end}}</p>
		<ul>
			<li>Job: <span class="bold">{{.Log.JobGroup}}/{{.Log.JobName}}</span></li>
			<li>Fired: <span class="bold">{{.Log.FireTime}}</span></li>
			<li>Status: <span class="bold">{{.Log.Status}}</span></li>
			{{- if .Log.Duration}}
			<li>Duration: {{.Log.Duration}}ms</li>
			{{- end}}
		</ul>
		{{- if .Log.Message}}
		<pre>
{{.Log.Message}}
		</pre>
		{{- end}}
	</body>
</html>
`
	data := struct {
		Log  scheduler.ExecutionLog
		Host string
	}{Log: e, Host: host}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}
