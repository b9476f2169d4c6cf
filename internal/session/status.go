package session

// Status is the externally visible channel state. It is always derived from a
// State via Project and never stored.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusQR           Status = "qr"
	StatusDisconnected Status = "disconnected"
)

func (s Status) String() string {
	return string(s)
}

// Project maps a state to its status. Readiness wins over a stale pairing code.
func Project(s State) Status {
	if s.Ready && s.BoundNumber != "" {
		return StatusConnected
	}
	if s.PairingCode != "" {
		return StatusQR
	}
	return StatusDisconnected
}

// View is the JSON shape served by GET /status and the websocket stream.
// PhoneNumber is null unless the status is connected.
type View struct {
	Status      Status  `json:"status"`
	PhoneNumber *string `json:"phoneNumber"`
}

// ViewOf projects s into a View.
func ViewOf(s State) View {
	st := Project(s)
	if st != StatusConnected {
		return View{Status: st}
	}
	number := s.BoundNumber
	return View{Status: st, PhoneNumber: &number}
}

// DisconnectedView is served whenever status cannot be determined.
func DisconnectedView() View {
	return View{Status: StatusDisconnected}
}
