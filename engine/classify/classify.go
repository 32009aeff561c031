// Package classify turns a support email body into a validated
// Classification using an external LLM.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Classifier classifies one message body. Every error it returns is a
// *domain.ClassificationError.
type Classifier interface {
	Classify(ctx context.Context, body string) (domain.Classification, error)
}

// Prompt builds the instruction sent to the model for body.
func Prompt(body string) string {
	teams := make([]string, len(domain.Teams))
	for i, t := range domain.Teams {
		teams[i] = fmt.Sprintf("%q", string(t))
	}
	var b strings.Builder
	b.WriteString("You are a support ticket assistant.\n\n")
	b.WriteString("Given the email body below, respond only with a JSON object containing the following fields:\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"team\": one of %s, or %s,\n", strings.Join(teams[:len(teams)-1], ", "), teams[len(teams)-1])
	fmt.Fprintf(&b, "  \"priority\": an integer from %d (highest) to %d (lowest),\n", domain.MinPriority, domain.MaxPriority)
	b.WriteString("  \"subject\": a short title describing the issue,\n")
	b.WriteString("  \"summary\": a one-sentence summary of the issue\n")
	b.WriteString("}\n\n")
	b.WriteString("Email body:\n")
	b.WriteString(`"""`)
	b.WriteString(body)
	b.WriteString(`"""`)
	b.WriteString("\n")
	return b.String()
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripFences removes a surrounding Markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Parse strictly decodes a model reply into a Classification. Unknown
// fields, wrong types, trailing data, and out-of-range values are all
// SchemaErrors; nothing is coerced to a default.
func Parse(raw string) (domain.Classification, error) {
	var c domain.Classification
	text := StripFences(raw)
	if text == "" {
		return c, domain.NewSchemaError("", "", fmt.Errorf("empty reply"))
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return domain.Classification{}, domain.NewSchemaError("", truncate(text, 200), fmt.Errorf("decode: %w", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.Classification{}, domain.NewSchemaError("", truncate(text, 200), fmt.Errorf("trailing data after JSON object"))
	}
	c.Subject = strings.TrimSpace(c.Subject)
	c.Summary = strings.TrimSpace(c.Summary)
	if err := domain.ValidateClassification(c); err != nil {
		return domain.Classification{}, err
	}
	return c, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// snippet reads at most 512 bytes of an error body for diagnostics.
func snippet(r io.Reader) string {
	var buf bytes.Buffer
	io.Copy(&buf, io.LimitReader(r, 512))
	return strings.TrimSpace(buf.String())
}
