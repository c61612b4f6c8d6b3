package wire

// Envelope type discriminators (spec §6). Replies are always one of these.
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeAuth     = "auth"
	TypeAuthOK   = "auth_ok"
	TypeAuthFail = "auth_fail"
	TypeResult   = "result"
	TypeError    = "error"
)

// Result builds a {type:"result", ...} reply, echoing requestID when set.
func Result(requestID string, data map[string]any) map[string]any {
	out := map[string]any{"type": TypeResult}
	for k, v := range data {
		out[k] = v
	}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// Error builds a {type:"error", ...} reply.
func Error(requestID, message string, details any) map[string]any {
	out := map[string]any{"type": TypeError, "error": message}
	if details != nil {
		out["details"] = details
	}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// Pong builds the no-auth health-probe reply.
func Pong(requestID string) map[string]any {
	out := map[string]any{"type": TypePong}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// AuthOK and AuthFail build the authentication replies.
func AuthOK(requestID string) map[string]any {
	out := map[string]any{"type": TypeAuthOK}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

func AuthFail(requestID, errMsg string) map[string]any {
	out := map[string]any{"type": TypeAuthFail, "error": errMsg}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// RequestID extracts the optional correlation id from a parsed request.
func RequestID(msg map[string]any) string {
	if v, ok := msg["requestId"].(string); ok {
		return v
	}
	return ""
}

// RequestType extracts the required type discriminator from a parsed
// request. An empty string means the field was absent or not a string.
func RequestType(msg map[string]any) string {
	if v, ok := msg["type"].(string); ok {
		return v
	}
	return ""
}
