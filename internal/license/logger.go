package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// logAction writes a structured engine log line.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}, attrs...)
	e.logger.LogAttrs(ctx, level, result, all...)
}

// logLicenseAction is logAction with masked license identity.
func (e *Engine) logLicenseAction(ctx context.Context, level slog.Level, action, result, licenseKey, email string, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("license_key", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
	)
	if email != "" {
		attrs = append(attrs, slog.String("user_email", maskEmail(email)))
	}
	e.logAction(ctx, level, action, result, attrs...)
}

func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// maskEmail keeps the first character and the domain.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "****"
	}
	return local[:1] + "***@" + domain
}

func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

func levelFor(res Result) slog.Level {
	switch {
	case res.Valid:
		return slog.LevelInfo
	case res.State == StateError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
