package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in emitted records.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"secret":        {},
	"hmac_secret":   {},
	"password":      {},
	"dsn":           {},
	"private_key":   {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField builds an attribute whose value is replaced with RedactedValue when
// key is sensitive and value is non-blank.
func MaskField(key, value string) slog.Attr {
	return redactAttr(slog.String(key, value))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	if s := attr.Value.Resolve().String(); strings.TrimSpace(s) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
