package proto

// SessionUpdateType is the type discriminator of the session-init message.
const SessionUpdateType = "session.update"

// SessionUpdate is sent by the relay to the upstream API as the first frame of a pair.
type SessionUpdate struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

// Session carries the conversational parameters for the upstream session.
type Session struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
	Voice        string   `json:"voice"`
}
