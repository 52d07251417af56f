package auditchain

import "strings"

// Redacted replaces masked values in stored detail payloads.
const Redacted = "[REDACTED]"

// defaultSensitiveKeys match by case-insensitive substring against detail
// map keys. "api_key" also catches "apikey" shaped keys via the second form.
var defaultSensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "ssn", "national_id", "resident_no", "credential",
}

// Masker redacts sensitive fields from audit detail maps before they are
// hashed and stored. The zero set of extra keys gives the default policy.
type Masker struct {
	keys []string
}

// NewMasker returns a Masker using the default sensitive key set plus any
// deployment-specific extras.
func NewMasker(extra ...string) *Masker {
	keys := make([]string, 0, len(defaultSensitiveKeys)+len(extra))
	keys = append(keys, defaultSensitiveKeys...)
	for _, k := range extra {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return &Masker{keys: keys}
}

func (m *Masker) sensitive(key string) bool {
	lk := strings.ToLower(key)
	for _, s := range m.keys {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

// Mask returns a copy of detail with every sensitive value replaced by
// Redacted. Nested maps and slices are walked recursively. The input is
// never mutated; a nil map yields nil.
func (m *Masker) Mask(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if m.sensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = m.maskValue(v)
	}
	return out
}

func (m *Masker) maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return m.Mask(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = m.maskValue(e)
		}
		return out
	default:
		return v
	}
}
