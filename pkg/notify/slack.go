package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/systemstart/browser-build/pkg/runner"
)

// EnvSlackWebhook is the environment variable holding the webhook URL.
const EnvSlackWebhook = "SLACK_WEBHOOK_URL"

// DefaultSendTimeout bounds each webhook request.
const DefaultSendTimeout = 5 * time.Second

// queueSize is how many messages may wait for delivery before new ones
// are dropped.
const queueSize = 64

var stepDescriptions = map[string]string{
	"clean":           "Cleaning build artifacts",
	"setup-env":       "Setting up environment",
	"git-sync":        "Syncing Git and Chromium source",
	"patch-strings":   "Applying string replacements",
	"patch-apply":     "Applying Git patches",
	"replace-files":   "Replacing source files",
	"copy-resources":  "Copying resources",
	"configure":       "Configuring build with GN",
	"build":           "Building the browser",
	"merge-universal": "Merging universal binary",
	"sign-mac":        "Signing macOS app",
	"sign-windows":    "Signing Windows binaries",
	"sign-linux":      "Signing Linux packages",
	"package-mac":     "Creating DMG",
	"package-windows": "Creating Windows installer",
	"package-linux":   "Creating Linux package",
	"upload-gcs":      "Uploading to GCS",
	"upload-r2":       "Uploading to R2",
	"ota-appcast":     "Publishing update feed",
}

// majorSteps are the name fragments whose completion is announced.
var majorSteps = []string{"build", "merge", "sign", "package", "upload", "appcast"}

var slackTemplates = map[runner.EventType]string{
	runner.PipelineStart: `Build started: {{ .Pipeline }} ({{ .Metadata.build_type | default "release" }}, {{ .Metadata.platform }}/{{ .Metadata.arch }}){{ if .Metadata.dry_run }} [dry run]{{ end }}`,
	runner.StepStart:     `Started: {{ describe .Step }}`,
	runner.StepEnd: `Completed: {{ .Step }} in {{ .Duration }}
{{- with .Result }}{{ with index .Artifacts "gcs_uris" }}
{{ join "\n" . }}{{ end }}{{ with index .Artifacts "r2_uris" }}
{{ join "\n" . }}{{ end }}{{ end }}`,
	runner.StepError:   `Error in {{ .Step }}: {{ .Message }}`,
	runner.PipelineEnd: `{{ if .Success }}Build succeeded{{ else }}Build {{ .Metadata.state | default "failed" }}{{ end }}: {{ .Message }}`,
}

// Slack posts lifecycle events to a chat webhook. Messages are queued and
// delivered in order by a single background worker, so a slow endpoint
// never holds up the pipeline. Delivery failures are logged and dropped.
type Slack struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	platform string
	tmpl     map[runner.EventType]*template.Template

	mu     sync.Mutex
	closed bool
	queue  chan slackPayload
	done   chan struct{}
}

// SlackOption configures a Slack sink.
type SlackOption func(*Slack)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) SlackOption {
	return func(s *Slack) { s.client = c }
}

// WithSendTimeout replaces DefaultSendTimeout.
func WithSendTimeout(d time.Duration) SlackOption {
	return func(s *Slack) { s.timeout = d }
}

// WithPlatform names the build platform in the message footer.
func WithPlatform(platform string) SlackOption {
	return func(s *Slack) { s.platform = platform }
}

// NewSlack creates a webhook sink posting to url.
func NewSlack(url string, opts ...SlackOption) (*Slack, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook URL is empty (set %s)", EnvSlackWebhook)
	}

	s := &Slack{
		url:     url,
		client:  http.DefaultClient,
		timeout: DefaultSendTimeout,
		tmpl:    make(map[runner.EventType]*template.Template, len(slackTemplates)),
	}
	for _, opt := range opts {
		opt(s)
	}

	funcs := sprig.TxtFuncMap()
	funcs["describe"] = func(step string) string {
		if d, ok := stepDescriptions[step]; ok {
			return d
		}
		return "Running " + step
	}
	for t, text := range slackTemplates {
		tmpl, err := template.New(string(t)).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing %s message template: %w", t, err)
		}
		s.tmpl[t] = tmpl
	}

	s.queue = make(chan slackPayload, queueSize)
	s.done = make(chan struct{})
	go s.deliver()
	return s, nil
}

// Register subscribes s to the announced event types.
func (s *Slack) Register(sub runner.Subscriber) {
	for t := range s.tmpl {
		sub.Subscribe(t, s.Handle)
	}
}

// Handle renders e and posts it in the background.
func (s *Slack) Handle(e runner.Event) {
	if e.Type == runner.StepEnd && !isMajorStep(e.Step) {
		return
	}

	text, err := s.render(e)
	if err != nil {
		slog.Warn("rendering notification failed", "event", e.Type, "error", err)
		return
	}
	success := e.Type != runner.StepError && (e.Type != runner.PipelineEnd || e.Success)
	s.dispatch(s.payload(text, success))
}

func (s *Slack) render(e runner.Event) (string, error) {
	tmpl, ok := s.tmpl[e.Type]
	if !ok {
		return "", fmt.Errorf("no template for %s", e.Type)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer,omitempty"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) payload(text string, success bool) slackPayload {
	color, mark := "good", "✅"
	if !success {
		color, mark = "danger", "❌"
	}
	footer := "Browser build system"
	if s.platform != "" {
		footer += " - " + s.platform
	}
	return slackPayload{Attachments: []slackAttachment{{
		Color:  color,
		Fields: []slackField{{Title: "Browser Build", Value: mark + " " + text}},
		Footer: footer,
	}}}
}

func (s *Slack) dispatch(p slackPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- p:
	default:
		slog.Warn("notification queue full, dropping message")
	}
}

func (s *Slack) deliver() {
	defer close(s.done)
	for p := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.post(ctx, p); err != nil {
			slog.Warn("sending notification failed", "error", err)
		}
		cancel()
	}
}

func (s *Slack) post(ctx context.Context, p slackPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ErrCloseTimeout is returned by Close when sends are still in flight
// after the wait.
var ErrCloseTimeout = errors.New("notifications still in flight")

// Close stops accepting events and waits up to wait for queued messages
// to be delivered.
func (s *Slack) Close(wait time.Duration) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(wait):
		return ErrCloseTimeout
	}
}

func isMajorStep(name string) bool {
	name = strings.ToLower(name)
	for _, frag := range majorSteps {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}
