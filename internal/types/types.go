package types

// Verb identifies the command carried by one token group.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbGet
	VerbSet
	VerbCmd
)

// ParseVerb maps the leading token of a group onto a Verb.
func ParseVerb(s string) Verb {
	switch s {
	case "get":
		return VerbGet
	case "set":
		return VerbSet
	case "cmd":
		return VerbCmd
	default:
		return VerbUnknown
	}
}

func (v Verb) String() string {
	switch v {
	case VerbGet:
		return "get"
	case VerbSet:
		return "set"
	case VerbCmd:
		return "cmd"
	default:
		return "unknown"
	}
}

// ActionMode is the requested effect of a cmd group.
type ActionMode int

const (
	ActionInvalid ActionMode = iota
	ActionBegin
	ActionEnd
	ActionOnce
	ActionHold
)

// ParseActionMode maps the third token of a cmd group onto an ActionMode.
func ParseActionMode(s string) ActionMode {
	switch s {
	case "begin":
		return ActionBegin
	case "end":
		return ActionEnd
	case "once":
		return ActionOnce
	case "hold":
		return ActionHold
	default:
		return ActionInvalid
	}
}

func (m ActionMode) String() string {
	switch m {
	case ActionBegin:
		return "begin"
	case ActionEnd:
		return "end"
	case ActionOnce:
		return "once"
	case ActionHold:
		return "hold"
	default:
		return "invalid"
	}
}

// Reply is one literal result token sent back for a token group.
type Reply string

const (
	ReplyOK               Reply = "{ok}"
	ReplyInvalidDataref   Reply = "{invalid_dataref}"
	ReplyGetFailed        Reply = "{get_failed}"
	ReplySetFailed        Reply = "{set_failed}"
	ReplyTypeMismatch     Reply = "{dataref_type_mismatch}"
	ReplyNotWritable      Reply = "{dataref_not_writable}"
	ReplyUnknownType      Reply = "{unknown_type}"
	ReplyInvalidCommand   Reply = "{invalid_command}"
	ReplyInvalidAction    Reply = "{invalid_command_action}"
	ReplyMissingHold      Reply = "{missing_hold_duration}"
	ReplyMalformedRequest Reply = "{malformed_request}"
	ReplyError            Reply = "{error}"
	ReplyCmdFailed        Reply = "{cmd_failed}"
)

// IsToken reports whether s is one of the literal reply tokens rather than
// a get result.
func IsToken(s string) bool {
	return len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}'
}
