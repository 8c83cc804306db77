package logcache

import (
	"sort"

	"github.com/trydirect/deployctl/internal/secrets"
)

// Redactor scrubs known secret values out of log text before it is cached,
// using the same longest-match-first masking as MaskingWriter — adapted
// here for agent-reported log lines rather than captured command output.
type Redactor struct {
	values []secrets.Secret
}

// NewRedactor builds a Redactor over the given secret values.
func NewRedactor(values map[string]string) *Redactor {
	out := make([]secrets.Secret, 0, len(values))
	for name, value := range values {
		if value == "" {
			continue
		}
		out = append(out, secrets.Secret{Name: name, Value: []byte(value)})
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i].Value) > len(out[j].Value) })
	return &Redactor{values: out}
}

// AppendRedacted masks e.Message against r's known secret values, then
// appends it the same way Append does.
func (c *Cache) AppendRedacted(deploymentHash, container string, e Entry, r *Redactor) {
	if r != nil && len(r.values) > 0 {
		e.Message = secrets.MaskString(e.Message, r.values)
	}
	c.Append(deploymentHash, container, e)
}
