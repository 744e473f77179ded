// Package session implements the per-driver conversational state machine:
// global event preprocessing, the per-state transition table, entering
// CHOOSING_ROUTE, and the shared handleTimeout logic invoked both by the
// timer wheel and by the slot controller's sweeper reclaim path.
package session

import "time"

// State is one of the finite session states.
type State string

const (
	StateWaitingID     State = "WAITING_ID"
	StateMenu          State = "MENU"
	StateHelpMenu      State = "HELP_MENU"
	StateChoosingRoute State = "CHOOSING_ROUTE"
)

// GroupMoto and GroupGeneral are the two queue partitions.
const (
	GroupMoto    = "moto"
	GroupGeneral = "general"
)

// StateTTLDefault is the idle-expiry window for a session.
const StateTTLDefault = 3 * time.Hour

// RouteRef is the snapshot of a route offered to a driver in CHOOSING_ROUTE.
// It is a point-in-time snapshot, not a live reference -- a claim
// re-validates against the route table regardless.
type RouteRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	VehicleType string `json:"vehicleType"`
}

// DriverSession is the persisted per-chat conversational record.
type DriverSession struct {
	ChatID          string     `json:"chatId"`
	State           State      `json:"state"`
	DriverID        string     `json:"driverId,omitempty"`
	DriverName      string     `json:"driverName,omitempty"`
	VehicleType     string     `json:"vehicleType,omitempty"`
	PriorityScore   int        `json:"priorityScore,omitempty"`
	QueueGroup      string     `json:"queueGroup,omitempty"`
	InQueue         bool       `json:"inQueue"`
	AvailableRoutes []RouteRef `json:"availableRoutes,omitempty"`
}

// GroupForVehicle derives the queue partition for a vehicle type, once, at
// identity-confirmation time.
func GroupForVehicle(vehicleType string) string {
	if vehicleType == "moto" {
		return GroupMoto
	}
	return GroupGeneral
}

// newSession starts a brand-new session for chatID, per the "(none) -> any ->
// create session, greet -> WAITING_ID" row of the transition table.
func newSession(chatID string) *DriverSession {
	return &DriverSession{ChatID: chatID, State: StateWaitingID}
}
