package obslog

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// redactAll replaces the value of any field whose key matches a
// configured redaction field name, or whose string value matches a
// configured pattern, with a placeholder. Unlike the teacher's
// RedactingEncoder, which wraps the zapcore.Encoder to redact every
// field system-wide, this applies only to the caller-supplied fields of
// a single log call; constant fields set at logger construction and
// context-derived correlation fields are never redaction candidates, so
// encoder-level interception is unnecessary here.
func redactAll(cfg RedactionConfig, fields []zap.Field) []zap.Field {
	if !cfg.Enabled || len(fields) == 0 {
		return fields
	}
	redactKeys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		redactKeys[strings.ToLower(f)] = true
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if re, err := regexp.Compile(p); err == nil {
			patterns = append(patterns, re)
		}
	}

	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f, redactKeys, patterns)
	}
	return out
}

func redactField(f zap.Field, redactKeys map[string]bool, patterns []*regexp.Regexp) zap.Field {
	if redactKeys[strings.ToLower(f.Key)] {
		return zap.String(f.Key, "[REDACTED]")
	}
	if f.Type == zapcore.StringType {
		for _, re := range patterns {
			if re.MatchString(f.String) {
				return zap.String(f.Key, "[REDACTED:pattern]")
			}
		}
	}
	return f
}
