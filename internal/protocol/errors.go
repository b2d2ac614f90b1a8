package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Run routing/state.
	ErrBusy        = "E_BUSY"
	ErrRunNotFound = "E_RUN_NOT_FOUND"
	ErrRateLimit   = "E_RATE_LIMIT"

	// Model/engine layer.
	ErrModelInvalid = "E_MODEL_INVALID"
	ErrModelLoad    = "E_MODEL_LOAD"
	ErrSearchFailed = "E_SEARCH_FAILED"
	ErrWFCFailed    = "E_WFC_FAILED"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBusy:            {},
	ErrRunNotFound:     {},
	ErrRateLimit:       {},
	ErrModelInvalid:    {},
	ErrModelLoad:       {},
	ErrSearchFailed:    {},
	ErrWFCFailed:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
