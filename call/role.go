package call

// Role is the part a local identity plays in a call.
type Role int

// The roles a local identity can have relative to a record.
const (
	RoleUnaffiliated Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	case RoleUnaffiliated:
		return "unaffiliated"
	default:
		return "unknown"
	}
}

// CandidateField names one of the two candidate sequences of a record.
type CandidateField string

// The candidate fields. The caller owns offer candidates and the callee owns answer candidates.
const (
	FieldOfferCandidates  = CandidateField("offerCandidates")
	FieldAnswerCandidates = CandidateField("answerCandidates")
)

// OutgoingField is the candidate field written by this role.
func (r Role) OutgoingField() CandidateField {
	switch r {
	case RoleCaller:
		return FieldOfferCandidates
	case RoleCallee:
		return FieldAnswerCandidates
	default:
		return ""
	}
}

// IncomingField is the candidate field written by the other participant.
func (r Role) IncomingField() CandidateField {
	switch r {
	case RoleCaller:
		return FieldAnswerCandidates
	case RoleCallee:
		return FieldOfferCandidates
	default:
		return ""
	}
}

// ResolveRole determines what part localID plays in the given record. Anyone
// who is neither the caller nor the callee is unaffiliated and must not act on
// the record.
func ResolveRole(localID string, rec *Record) Role {
	if rec == nil || localID == "" {
		return RoleUnaffiliated
	}
	switch localID {
	case rec.CallerID:
		return RoleCaller
	case rec.CalleeID:
		return RoleCallee
	default:
		return RoleUnaffiliated
	}
}
