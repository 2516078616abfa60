package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewd/internal/agents"
	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"github.com/fyrsmithlabs/crewd/internal/secrets"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

// MaxCompensationResult caps the run output embedded in a compensating comment.
const MaxCompensationResult = 3000

const echoExplanation = "The final agent turn requested a tool call that was never executed, " +
	"so there is no written result to attach. Check the run logs for details."

// Verifier checks that every agent that ran left its attributed comment.
type Verifier struct {
	tracker  tracker.Tracker
	scrubber secrets.Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewVerifier returns a verifier. A nil scrubber disables scrubbing.
func NewVerifier(tr tracker.Tracker, scrubber secrets.Scrubber, logger *logging.Logger) *Verifier {
	if scrubber == nil {
		scrubber = secrets.Nop()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Verifier{
		tracker:  tr,
		scrubber: scrubber,
		logger:   logger.Named("verifier"),
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Verify re-reads the issue's comments and returns the headers of expected
// that do not appear. Only comments after preCount are considered when
// preCount is non-negative; a failed re-read counts every header as missing.
//
// When anything is missing exactly one compensating comment is appended. The
// returned error only reports a failure to post it.
func (v *Verifier) Verify(ctx context.Context, issue, preCount int, expected []agents.Descriptor, result crew.Result) ([]string, error) {
	ctx, span := v.tracer.Start(ctx, "orchestrator.verify")
	defer span.End()

	missing := v.missing(ctx, issue, preCount, expected)
	span.SetAttributes(attribute.Int("issue", issue), attribute.Int("missing", len(missing)))
	if len(missing) == 0 {
		v.logger.Debug(ctx, "all agent comments present", zap.Int("expected", len(expected)))
		return nil, nil
	}

	headers := make([]string, len(missing))
	for i, d := range missing {
		headers[i] = d.Header
		metrics.Get().MissingHeaders.WithLabelValues(d.ID).Inc()
	}
	v.logger.Warn(ctx, "agent comments missing, compensating", zap.Strings("headers", headers))

	body := v.scrubber.Redact(compensationBody(missing, result))
	if err := v.tracker.AppendComment(ctx, issue, body); err != nil {
		v.logger.Error(ctx, "posting compensating comment", zap.Error(err))
		return headers, fmt.Errorf("posting compensating comment: %w", err)
	}
	metrics.Get().CompensationPosts.Inc()
	return headers, nil
}

func (v *Verifier) missing(ctx context.Context, issue, preCount int, expected []agents.Descriptor) []agents.Descriptor {
	comments, err := v.tracker.Comments(ctx, issue)
	if err != nil {
		v.logger.Warn(ctx, "re-reading comments failed, treating all as missing", zap.Error(err))
		return expected
	}
	if preCount >= 0 && preCount <= len(comments) {
		comments = comments[preCount:]
	}

	var all strings.Builder
	for _, c := range comments {
		all.WriteString(c.Body)
		all.WriteByte('\n')
	}
	joined := all.String()

	var out []agents.Descriptor
	for _, d := range expected {
		if !strings.Contains(joined, d.Header) {
			out = append(out, d)
		}
	}
	return out
}

func compensationBody(missing []agents.Descriptor, result crew.Result) string {
	names := make([]string, len(missing))
	for i, d := range missing {
		names[i] = fmt.Sprintf("%s (%s)", d.Name, d.Header)
	}

	var b strings.Builder
	b.WriteString("**[Orchestrator]**\n\n")
	fmt.Fprintf(&b, "The following agents did not leave their comment on this issue: %s.\n", strings.Join(names, ", "))
	b.WriteString("The orchestrator is compensating by posting the run result on their behalf.\n\n")

	switch result.Kind {
	case crew.ToolCallEcho:
		b.WriteString(echoExplanation)
		b.WriteByte('\n')
	case crew.Empty:
		b.WriteString("The run produced no output.\n")
	default:
		b.WriteString("---\n")
		b.WriteString(usage.Truncate(result.String(), MaxCompensationResult))
		b.WriteByte('\n')
	}
	return b.String()
}
