package domain

// Phase is the position of the session manager in its state machine.
type Phase string

const (
	PhaseInitializing                Phase = "initializing"
	PhaseUnauthenticated             Phase = "unauthenticated"
	PhaseAuthenticatedLoadingProfile Phase = "authenticated_loading_profile"
	PhaseAuthenticated               Phase = "authenticated"
)

// SessionState is a snapshot of who is signed in and what their profile is.
// Snapshots are values; mutating one never affects the manager.
type SessionState struct {
	Phase Phase `json:"phase"`
	// Authenticated is true whenever Identity is set.
	Authenticated bool      `json:"authenticated"`
	Identity      *Identity `json:"identity"`
	Profile       *Profile  `json:"profile"`
	Loading       bool      `json:"loading"`
}

// Public returns the state without identity and profile, for callers that
// did not prove they own the session.
func (s SessionState) Public() SessionState {
	return SessionState{Phase: s.Phase, Authenticated: s.Authenticated, Loading: s.Loading}
}
