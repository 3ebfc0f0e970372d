package shared

import "fmt"

// Actor identifies who caused a mutation. It is threaded explicitly through
// every service call; there is no ambient request-user state.
type Actor struct {
	UserID int64
	System bool
	Name   string
}

// UserActor builds an actor for an authenticated back-office user.
func UserActor(userID int64) Actor {
	return Actor{UserID: userID}
}

// SystemActor builds an actor for background jobs and integrations.
func SystemActor(name string) Actor {
	return Actor{System: true, Name: name}
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	return a.System || a.UserID > 0
}

// Label returns a stable string used in audit and ledger rows.
func (a Actor) Label() string {
	if a.System {
		if a.Name != "" {
			return fmt.Sprintf("system:%s", a.Name)
		}
		return "system"
	}
	return fmt.Sprintf("user:%d", a.UserID)
}
