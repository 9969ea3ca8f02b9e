package domain

// SyncAction records which branch a reconciliation took.
type SyncAction string

const (
	SyncActionNone      SyncAction = ""
	SyncActionCreated   SyncAction = "created"
	SyncActionPatched   SyncAction = "patched"
	SyncActionUnchanged SyncAction = "unchanged"
)

// Outcome is the tagged result of reconciling one identity: either a
// resolved user together with the action taken, or the reason it stayed
// unresolved.
type Outcome struct {
	User   *User
	Action SyncAction
	Reason error
}

// Resolved builds a successful outcome.
func Resolved(user *User, action SyncAction) Outcome {
	return Outcome{User: user, Action: action}
}

// Unresolved builds a failed outcome.
func Unresolved(reason error) Outcome {
	return Outcome{Reason: reason}
}

// IsResolved reports whether the outcome carries a user.
func (o Outcome) IsResolved() bool {
	return o.Reason == nil && o.User != nil
}
