package launch

import (
	"net/url"
	"strings"
)

const redactedValue = "[REDACTED]"

// secretWords are matched against whole words of an env key, so HF_TOKEN and
// OPENAI_API_KEY are hidden while KEYBOARD_LAYOUT is not.
var secretWords = map[string]bool{
	"APIKEY":      true,
	"AUTH":        true,
	"CERT":        true,
	"CREDENTIALS": true,
	"KEY":         true,
	"PASSPHRASE":  true,
	"PASSWD":      true,
	"PASSWORD":    true,
	"PRIVATE":     true,
	"SECRET":      true,
	"TOKEN":       true,
}

// SanitizeEnv returns a copy of env that is safe to log or print. Values of
// secret-looking keys are replaced. URL values keep scheme and host but lose
// any password, so a linked base URL stays readable.
func SanitizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if secretKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = redactURLPassword(v)
	}
	return out
}

func secretKey(key string) bool {
	words := strings.FieldsFunc(strings.ToUpper(key), func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for _, w := range words {
		if secretWords[w] {
			return true
		}
	}
	return false
}

func redactURLPassword(v string) string {
	if !strings.Contains(v, "://") {
		return v
	}
	u, err := url.Parse(v)
	if err != nil || u.User == nil {
		return v
	}
	if _, ok := u.User.Password(); !ok {
		return v
	}
	return u.Redacted()
}
