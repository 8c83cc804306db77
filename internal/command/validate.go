package command

import (
	"encoding/json"

	"github.com/trydirect/deployctl/internal/cperrors"
)

const (
	minStopTimeoutSeconds = 1
	maxStopTimeoutSeconds = 600
	maxErrorSummaryHours  = 168
	maxLogsLimit          = 500
)

// ValidateParameters validates and normalizes a command's parameters object
// by type before insertion (spec.md §4.5/§8). restart requires a non-empty
// app_code; stop's timeout clamps to 1..600; error_summary's hours clamps to
// 168; logs' limit clamps to 500 and redact is always forced true regardless
// of caller input. The returned parameters are what must be persisted in
// place of the caller-supplied value — clamping rewrites, it does not reject.
func ValidateParameters(typ Type, parameters json.RawMessage) (json.RawMessage, error) {
	switch typ {
	case TypeRestart:
		return validateRestartParams(parameters)
	case TypeStop:
		return clampIntField(parameters, "timeout", minStopTimeoutSeconds, maxStopTimeoutSeconds)
	case TypeErrorSummary:
		return clampIntField(parameters, "hours", 1, maxErrorSummaryHours)
	case TypeLogs:
		return clampLogsParams(parameters)
	default:
		return parameters, nil
	}
}

func paramsBoundsError(message string) *cperrors.CPError {
	return cperrors.New(cperrors.CategoryValidation, cperrors.CodeParameterBounds, message)
}

func decodeParams(parameters json.RawMessage) (map[string]json.RawMessage, error) {
	if len(parameters) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(parameters, &m); err != nil {
		return nil, paramsBoundsError("parameters must be a JSON object")
	}
	return m, nil
}

func validateRestartParams(parameters json.RawMessage) (json.RawMessage, error) {
	m, err := decodeParams(parameters)
	if err != nil {
		return nil, err
	}
	raw, ok := m["app_code"]
	if ok {
		var code string
		if err := json.Unmarshal(raw, &code); err == nil && code != "" {
			return parameters, nil
		}
	}
	return nil, paramsBoundsError("restart requires a non-empty app_code parameter")
}

// clampIntField clamps an optional integer field into [min, max], rewriting
// parameters only when clamping actually changed the value. A missing field
// is left untouched; a present-but-non-numeric field is a validation error.
func clampIntField(parameters json.RawMessage, field string, min, max int) (json.RawMessage, error) {
	m, err := decodeParams(parameters)
	if err != nil {
		return nil, err
	}
	raw, ok := m[field]
	if !ok {
		return parameters, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, paramsBoundsError(field + " must be a number")
	}

	clamped := n
	if clamped < min {
		clamped = min
	}
	if clamped > max {
		clamped = max
	}
	if clamped == n {
		return parameters, nil
	}

	encoded, err := json.Marshal(clamped)
	if err != nil {
		return nil, cperrors.Internal("marshal clamped parameter", err)
	}
	m[field] = encoded
	out, err := json.Marshal(m)
	if err != nil {
		return nil, cperrors.Internal("marshal parameters", err)
	}
	return out, nil
}

// clampLogsParams clamps limit to maxLogsLimit and unconditionally forces
// redact=true, since logs results are agent-reported free text that may
// carry secret values — internal/agentapi.cacheLogLines is what actually
// redacts them before caching.
func clampLogsParams(parameters json.RawMessage) (json.RawMessage, error) {
	m, err := decodeParams(parameters)
	if err != nil {
		return nil, err
	}

	if raw, ok := m["limit"]; ok {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, paramsBoundsError("limit must be a number")
		}
		if n > maxLogsLimit {
			n = maxLogsLimit
		}
		if n < 0 {
			n = 0
		}
		encoded, err := json.Marshal(n)
		if err != nil {
			return nil, cperrors.Internal("marshal clamped parameter", err)
		}
		m["limit"] = encoded
	}

	redact, err := json.Marshal(true)
	if err != nil {
		return nil, cperrors.Internal("marshal redact parameter", err)
	}
	m["redact"] = redact

	out, err := json.Marshal(m)
	if err != nil {
		return nil, cperrors.Internal("marshal parameters", err)
	}
	return out, nil
}
