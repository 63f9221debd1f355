package llm

import "log/slog"

// CanonicalParamKeys is the whitelist of generation parameter names the core
// understands. Drivers silently drop any key outside this set.
var CanonicalParamKeys = map[string]bool{
	"temperature":       true,
	"top_p":             true,
	"top_k":             true,
	"max_output_tokens": true,
	"frequency_penalty": true,
	"presence_penalty":  true,
	"stop_sequences":    true,
	"seed":              true,
	"response_format":   true,
	"reasoning_effort":  true,
}

// FilterParams returns the subset of params whose keys are in
// CanonicalParamKeys, preserving values unchanged.
func FilterParams(params ParamSet) ParamSet {
	out := make(ParamSet, len(params))
	for k, v := range params {
		if CanonicalParamKeys[k] {
			out[k] = v
		}
	}
	return out
}

// ClampMaxOutputTokens clamps the "max_output_tokens" key to limit and logs
// when a clamp occurred, per the contract's clamp-and-log requirement.
func ClampMaxOutputTokens(params ParamSet, limit int, driverName string) int {
	requested := limit
	if v, ok := params["max_output_tokens"]; ok {
		switch n := v.(type) {
		case int:
			requested = n
		case int64:
			requested = int(n)
		case float64:
			requested = int(n)
		}
	}
	if requested <= 0 || requested > limit {
		if requested > limit {
			slog.Warn("clamping max_output_tokens to model limit",
				"driver", driverName, "requested", requested, "limit", limit)
		}
		return limit
	}
	return requested
}
