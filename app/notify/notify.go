// Package notify sends emails about jobs reaching a terminal status. Completed jobs make completion
// messages, failed and partial jobs make error messages, each kind enabled separately.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/store/enums"
)

// Service delivers job notifications by email
type Service struct {
	Params
	destinations []notify.Notifier
	fromEmail    string
	toEmails     []string
}

// Params defines what to notify about
type Params struct {
	EnabledError      bool          // failed and partial jobs
	EnabledCompletion bool          // completed jobs
	HostName          string        // reported in subject and body
	Timeout           time.Duration // max time to deliver a single message
}

// SendersParams defines how to deliver notifications
type SendersParams struct {
	SMTP      notify.SMTPParams
	FromEmail string
	ToEmails  []string
}

const defaultTimeout = 10 * time.Second

// NewService makes notification service. Returns nil if nothing is enabled or there are no recipients.
func NewService(p Params, sp SendersParams) *Service {
	if !p.EnabledError && !p.EnabledCompletion {
		return nil
	}
	if len(sp.ToEmails) == 0 {
		log.Printf("[WARN] job notifications enabled, but no recipients set")
		return nil
	}
	if p.HostName == "" {
		p.HostName = "localhost"
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	from := sp.FromEmail
	if from == "" {
		from = "nanoledger@" + p.HostName
	}
	if sp.SMTP.ContentType == "" {
		sp.SMTP.ContentType = "text/html"
	}
	log.Printf("[INFO] job notifications to %v, errors: %v, completion: %v", sp.ToEmails, p.EnabledError, p.EnabledCompletion)
	return &Service{
		Params:       p,
		destinations: []notify.Notifier{notify.NewEmail(sp.SMTP)},
		fromEmail:    from,
		toEmails:     sp.ToEmails,
	}
}

// JobFinished sends a message about the job if its kind of outcome is enabled
func (s *Service) JobFinished(ctx context.Context, job jobs.Job) error {
	succeeded := job.Status == enums.JobStatusCompleted
	if succeeded && !s.EnabledCompletion || !succeeded && !s.EnabledError {
		return nil
	}

	msg, err := MakeHTML(job, s.HostName)
	if err != nil {
		return err
	}
	subj := fmt.Sprintf("job %s %s on %s", shortID(job.ID), job.Status, s.HostName)

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Send(ctx, subj, msg); err != nil {
		return fmt.Errorf("failed to send notification for job %s: %w", job.ID, err)
	}
	return nil
}

// Send delivers the message to all recipients
func (s *Service) Send(ctx context.Context, subj, text string) error {
	dest := fmt.Sprintf("mailto:%s?from=%s&subject=%s", strings.Join(s.toEmails, ","), s.fromEmail, url.QueryEscape(subj))
	return notify.Send(ctx, s.destinations, dest, text)
}

var jobTmpl = template.Must(template.New("job").Parse(`<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			ul { margin-top: -0.5em; margin-left: -0.5em; }
			.bold { color: #882828; font-weight: 900; }
		</style>
	</head>
	<body>
		<p>Job <span class="bold">{{.Job.ID}}</span> is {{.Job.Status}} on {{.Host}} at {{.Job.UpdatedAt.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Mode: <span class="bold">{{.Job.Mode}}</span></li>
			{{if .Job.Prompt}}<li>Prompt: {{.Job.Prompt}}</li>{{end}}
			<li>Completed: {{.Job.CompletedItems}} of {{.Job.TotalItems}}</li>
			<li>Failed: {{.Job.FailedItems}} of {{.Job.TotalItems}}</li>
		</ul>
	</body>
</html>
`))

// MakeHTML renders the message body for the job
func MakeHTML(job jobs.Job, host string) (string, error) {
	data := struct {
		Job  jobs.Job
		Host string
	}{Job: job, Host: host}

	buf := bytes.Buffer{}
	if err := jobTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
