package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadDirection    = "E_BAD_DIRECTION"
	ErrBadVerb         = "E_BAD_VERB"

	// Traversal layer.
	ErrNoPassage = "E_NO_PASSAGE"
	ErrUncleared = "E_UNCLEARED"
	ErrDissolved = "E_DISSOLVED"
	ErrConflict  = "E_CONFLICT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadDirection:    {},
	ErrBadVerb:         {},
	ErrNoPassage:       {},
	ErrUncleared:       {},
	ErrDissolved:       {},
	ErrConflict:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
