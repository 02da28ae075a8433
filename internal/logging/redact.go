package logging

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// accountLike matches digit runs long enough to be a bank account or card
// number. Telegram ids reach the log as integers and are left alone; group
// ids quoted in error text are negative and are skipped by Redact.
var accountLike = regexp.MustCompile(`\d{8,19}`)

// redactHook masks account-like numbers in messages and string or error
// fields before any formatter sees them.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(entry *logrus.Entry) error {
	entry.Message = Redact(entry.Message)
	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = Redact(v)
		case error:
			if masked := Redact(v.Error()); masked != v.Error() {
				entry.Data[key] = masked
			}
		}
	}
	return nil
}

// Redact replaces account-like digit runs in s with their masked form. A run
// carrying a leading minus sign, such as chat -1001234567890, is kept.
func Redact(s string) string {
	locs := accountLike.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if negative(s, start) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(MaskAccount(s[start:end]))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// negative reports whether the digits at start follow a sign rather than a
// hyphen inside a word.
func negative(s string, start int) bool {
	if start == 0 || s[start-1] != '-' {
		return false
	}
	if start == 1 {
		return true
	}
	c := s[start-2]
	return !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}
