package domain

// Member is the public view of a session inside a room.
// No transport or lifecycle logic here.
type Member struct {
	SessionID   SessionID `json:"sessionId"`
	DisplayName string    `json:"displayName,omitempty"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(sid SessionID, name string) Member {
	return Member{SessionID: sid, DisplayName: name}
}
