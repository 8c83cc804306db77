// Package template renders docker-compose documents and per-app .env text
// from typed context, per spec.md §4.2's rendering rules.
package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/trydirect/deployctl/internal/cperrors"
)

// ParseEnv parses an app's environment field, which may be either a JSON
// object (KEY -> value, stringifying numbers/booleans) or a JSON array of
// "KEY=value" strings, into an ordered map preserving input order.
func ParseEnv(raw json.RawMessage) ([]EnvVar, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var entries []string
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, cperrors.Wrap(err, cperrors.CategoryValidation, cperrors.CodeValidation, "invalid environment array")
		}
		return parseEnvLines(entries), nil
	case '{':
		// json.Decoder with UseNumber preserves object key order? No —
		// encoding/json does not guarantee map iteration order, so decode into
		// an ordered slice via Token scanning to keep input order stable.
		return parseEnvObjectOrdered(raw)
	default:
		return nil, cperrors.Validation("environment must be a JSON object or array")
	}
}

// EnvVar is one KEY=VALUE pair, order-preserving.
type EnvVar struct {
	Key   string
	Value string
}

func parseEnvLines(lines []string) []EnvVar {
	var out []EnvVar
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if idx := strings.IndexByte(line, '='); idx >= 0 {
			out = append(out, EnvVar{Key: line[:idx], Value: line[idx+1:]})
		}
	}
	return out
}

func parseEnvObjectOrdered(raw json.RawMessage) ([]EnvVar, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryValidation, cperrors.CodeValidation, "invalid environment object")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, cperrors.Validation("environment object must start with '{'")
	}

	var out []EnvVar
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, cperrors.Wrap(err, cperrors.CategoryValidation, cperrors.CodeValidation, "invalid environment key")
		}
		key, _ := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, cperrors.Wrap(err, cperrors.CategoryValidation, cperrors.CodeValidation, "invalid environment value")
		}
		out = append(out, EnvVar{Key: key, Value: stringifyScalar(value)})
	}
	return out, nil
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// RenderEnv renders an ordered list of env vars as "KEY=VALUE\n" lines.
// Empty values are permitted and rendered as "KEY=".
func RenderEnv(vars []EnvVar) string {
	var sb strings.Builder
	for _, v := range vars {
		sb.WriteString(v.Key)
		sb.WriteByte('=')
		sb.WriteString(v.Value)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// EnvMap converts an ordered list of env vars to a plain map, last write wins.
func EnvMap(vars []EnvVar) map[string]string {
	if len(vars) == 0 {
		return map[string]string{}
	}
	m := make(map[string]string, len(vars))
	for _, v := range vars {
		m[v.Key] = v.Value
	}
	return m
}

// SortedKeys returns vars' keys in sorted order — used where a stable,
// content-addressable rendering is needed regardless of insertion order.
func SortedKeys(vars []EnvVar) []string {
	keys := make([]string, 0, len(vars))
	for _, v := range vars {
		keys = append(keys, v.Key)
	}
	sort.Strings(keys)
	return keys
}

// ParseRawEnvText parses raw ".env"-style text (KEY=VALUE per line, blank
// lines and '#' comments preserved by the caller if echoed back, but dropped
// here since only the parsed key/value pairs are needed downstream).
func ParseRawEnvText(text string) []EnvVar {
	var out []EnvVar
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '='); idx >= 0 {
			out = append(out, EnvVar{Key: strings.TrimSpace(line[:idx]), Value: line[idx+1:]})
		}
	}
	return out
}

// ParsePortMapping accepts both "host:container" and "host:container/proto"
// input forms.
func ParsePortMapping(s string) (host, container int, protocol string, err error) {
	proto := ""
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		proto = s[idx+1:]
		s = s[:idx]
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, "", cperrors.Validationf("invalid port mapping %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, "", cperrors.Validationf("invalid host port in %q", s)
	}
	c, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, "", cperrors.Validationf("invalid container port in %q", s)
	}
	return h, c, proto, nil
}

// FormatPortMapping renders "{host}:{container}" or "{host}:{container}/{proto}",
// validating the mapping with the same nat port-spec parser the Docker
// Engine API uses, so a bad protocol suffix fails at render time.
func FormatPortMapping(host, container int, protocol string) (string, error) {
	if protocol == "" {
		protocol = "tcp"
	}
	if _, err := nat.ParsePortSpec(fmt.Sprintf("%d:%d/%s", host, container, protocol)); err != nil {
		return "", cperrors.Validationf("invalid port mapping %d:%d/%s: %v", host, container, protocol, err)
	}
	if protocol == "tcp" {
		return fmt.Sprintf("%d:%d", host, container), nil
	}
	return fmt.Sprintf("%d:%d/%s", host, container, protocol), nil
}

// FormatVolumeMapping renders "{source}:{target}" with an optional ":ro" suffix.
func FormatVolumeMapping(source, target string, readOnly bool) string {
	base := fmt.Sprintf("%s:%s", source, target)
	if readOnly {
		return base + ":ro"
	}
	return base
}
