// Package logging provides structured logging setup for the bot.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/config"
)

const serviceName = "vietqr-bot"

var baseLogger *logrus.Entry

// Context holds the identifiers a bot log line is usually keyed by. Zero
// values are left out of the entry.
type Context struct {
	UserID int64
	ChatID int64
	Event  string
	Flow   string
	Step   string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup builds the process logger from cfg and caches it for Logger and the
// package-level helpers. Every entry carries service and env fields and passes
// through account-number redaction.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	baseLogger = newBase(level, cfg.AppEnv)
	return baseLogger, nil
}

func newBase(level logrus.Level, appEnv string) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(appEnv))
	logger.AddHook(redactHook{})
	return logger.WithFields(logrus.Fields{"service": serviceName, "env": appEnv})
}

// Logger returns the cached base logger, or an info-level default before Setup
// has run.
func Logger() *logrus.Entry {
	return ensureLogger()
}

// WithContext returns a logger entry enriched with contextual fields when
// provided. Fields are omitted when zero-valued.
func WithContext(ctx Context) *logrus.Entry {
	return logWithFields(ctx.fields())
}

// Enrich adds the non-zero fields of ctx to an existing entry.
func Enrich(entry *logrus.Entry, ctx Context) *logrus.Entry {
	if entry == nil {
		entry = ensureLogger()
	}
	fields := ctx.fields()
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}

func (c Context) fields() logrus.Fields {
	fields := logrus.Fields{}

	if c.UserID != 0 {
		fields["user_id"] = c.UserID
	}
	if c.ChatID != 0 {
		fields["chat_id"] = c.ChatID
	}
	if v := strings.TrimSpace(c.Event); v != "" {
		fields["event"] = v
	}
	if v := strings.TrimSpace(c.Flow); v != "" {
		fields["flow"] = v
	}
	if v := strings.TrimSpace(c.Step); v != "" {
		fields["step"] = v
	}

	return fields
}

// Info and Error log through the base logger; they serve early boot paths
// that run before a logger has been threaded through.
func Info(msg string, fields logrus.Fields) {
	logWithFields(fields).Info(msg)
}

func Error(msg string, fields logrus.Fields) {
	logWithFields(fields).Error(msg)
}

// MaskAccount keeps the last four digits of an account number. Use it
// anywhere an account has to be identified in logs or labels.
func MaskAccount(number string) string {
	digits := strings.Join(strings.Fields(number), "")
	if len(digits) <= 4 {
		return "••••"
	}
	return "••••" + digits[len(digits)-4:]
}

func logWithFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger == nil {
		baseLogger = newBase(logrus.InfoLevel, config.DefaultAppEnv)
	}
	return baseLogger
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
