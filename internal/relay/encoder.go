// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/ManuGH/stemrelay/internal/pipeline"
)

// Encoder renders relay units. Every returned slice is written as a single unit.
type Encoder interface {
	ContentType() string
	// Open is written once before the first unit; it may be empty.
	Open(title string) []byte
	Status(text string, state State) []byte
	Line(text string) []byte
	Completed(slug, url string) []byte
	Failed(o pipeline.Outcome) []byte
}

// State is the coarse job state shown next to a status text.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// jsonText encodes s as a JSON string literal. encoding/json escapes <, >, &
// and U+2028/U+2029, so the literal is safe inside a <script> element.
func jsonText(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// HTMLEncoder streams a self-updating HTML page. Units are <script> elements
// calling addLog/setStatus with JSON-encoded arguments.
type HTMLEncoder struct {
	Nonce string
}

func (e HTMLEncoder) ContentType() string { return "text/html; charset=utf-8" }

var pageHead = template.Must(template.New("head").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · processing</title>
<style nonce="{{.Nonce}}">
body{font-family:system-ui,sans-serif;margin:2rem;background:#111;color:#eee}
#status{font-weight:600;margin-bottom:1rem}
#status.error{color:#f66}#status.done{color:#6f6}#status.queued{color:#fc6}
#log{white-space:pre-wrap;font-family:ui-monospace,monospace;font-size:.85rem;background:#000;padding:1rem;max-height:70vh;overflow:auto}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div id="status">Starting…</div>
<pre id="log"></pre>
<script nonce="{{.Nonce}}">
function addLog(t){var l=document.getElementById("log");l.appendChild(document.createTextNode(t+"\n"));l.scrollTop=l.scrollHeight;}
function setStatus(t,s){var e=document.getElementById("status");e.textContent=t;e.className=s||"";}
</script>
`))

func (e HTMLEncoder) Open(title string) []byte {
	var buf bytes.Buffer
	// Template errors are impossible for this fixed input shape.
	_ = pageHead.Execute(&buf, struct{ Title, Nonce string }{title, e.Nonce})
	// Browsers buffer the first chunk of a response before rendering; pad it.
	buf.WriteString("<!--" + strings.Repeat(" ", 1024) + "-->\n")
	return buf.Bytes()
}

func (e HTMLEncoder) script(body string) []byte {
	return []byte(`<script nonce="` + template.HTMLEscapeString(e.Nonce) + `">` + body + "</script>\n")
}

func (e HTMLEncoder) Status(text string, state State) []byte {
	return e.script(fmt.Sprintf("setStatus(%s,%s);", jsonText(text), jsonText(string(state))))
}

func (e HTMLEncoder) Line(text string) []byte {
	return e.script(fmt.Sprintf("addLog(%s);", jsonText(text)))
}

func (e HTMLEncoder) Completed(_ string, url string) []byte {
	body := fmt.Sprintf("setStatus(%s,%s);window.location=%s;", jsonText("Done, opening results…"), jsonText(string(StateDone)), jsonText(url))
	return append(e.script(body), []byte("</body>\n</html>\n")...)
}

func (e HTMLEncoder) Failed(o pipeline.Outcome) []byte {
	body := fmt.Sprintf("addLog(%s);setStatus(%s,%s);",
		jsonText(o.Message()), jsonText("Processing failed: "+string(o.Reason)), jsonText(string(StateError)))
	return append(e.script(body), []byte("</body>\n</html>\n")...)
}

// SSEEncoder renders text/event-stream events with single-line JSON payloads.
type SSEEncoder struct{}

func (SSEEncoder) ContentType() string { return "text/event-stream" }

func (SSEEncoder) Open(string) []byte { return []byte(": stream open\n\n") }

func event(name string, payload any) []byte {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte("{}")
	}
	return []byte("event: " + name + "\ndata: " + string(b) + "\n\n")
}

// StatusPayload is the data of a "status" event.
type StatusPayload struct {
	Text  string `json:"text"`
	State State  `json:"state"`
}

// LinePayload is the data of a "line" event.
type LinePayload struct {
	Text string `json:"text"`
}

// CompletedPayload is the data of a "completed" event.
type CompletedPayload struct {
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// FailedPayload is the data of a "failed" event.
type FailedPayload struct {
	Slug     string `json:"slug"`
	Message  string `json:"message"`
	Reason   string `json:"reason"`
	Stage    string `json:"stage"`
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
}

func (SSEEncoder) Status(text string, state State) []byte {
	return event("status", StatusPayload{Text: text, State: state})
}

func (SSEEncoder) Line(text string) []byte {
	return event("line", LinePayload{Text: text})
}

func (SSEEncoder) Completed(slug, url string) []byte {
	return event("completed", CompletedPayload{Slug: slug, URL: url})
}

func (SSEEncoder) Failed(o pipeline.Outcome) []byte {
	return event("failed", FailedPayload{
		Slug:     o.Slug,
		Message:  o.Message(),
		Reason:   string(o.Reason),
		Stage:    string(o.Stage),
		Command:  o.Command.String(),
		ExitCode: o.ExitCode,
	})
}
