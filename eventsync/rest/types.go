package rest

import (
	"fmt"
	"time"
)

// Event types

// Event is the canonical snapshot of an event.
type Event struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Location         string    `json:"location,omitempty"`
	StartsAt         time.Time `json:"startsAt"`
	EndsAt           time.Time `json:"endsAt,omitzero"`
	OrganizerID      string    `json:"organizerId,omitempty"`
	ParticipantCount int       `json:"participantCount"`
	Capacity         int       `json:"capacity,omitempty"`
	Joined           bool      `json:"joined"` // whether the caller is a participant
	Ratings          []Rating  `json:"ratings,omitempty"`
	AverageRating    float64   `json:"averageRating,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

// Rating is one participant's score for an event.
type Rating struct {
	UserID    string    `json:"userId"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RatingRequest is the request body for rating an event.
type RatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// Team types

// Team is the canonical snapshot of a team.
type Team struct {
	ID          int64        `json:"id"`
	EventID     int64        `json:"eventId"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	OwnerID     string       `json:"ownerId,omitempty"`
	Members     []TeamMember `json:"members,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt,omitzero"`
}

// TeamMember is one member of a team.
type TeamMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// CreateTeamRequest is the request body for creating a team.
type CreateTeamRequest struct {
	EventID     int64  `json:"eventId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateTeamRequest is the request body for updating a team. Nil fields
// are left unchanged by the server.
type UpdateTeamRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Message history types

// MessageInfo represents a single message in the history.
type MessageInfo struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Sender    string    `json:"sender"` // username
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagesResponse contains a page of messages with pagination info.
type MessagesResponse struct {
	Messages []MessageInfo `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

// Analytics types

// DashboardAnalytics is the aggregate shown on the organizer dashboard.
// It is expensive to compute server-side.
type DashboardAnalytics struct {
	Total             int            `json:"total"`
	TotalParticipants int            `json:"totalParticipants"`
	ActiveTeams       int            `json:"activeTeams"`
	AverageRating     float64        `json:"averageRating"`
	ByCategory        map[string]int `json:"byCategory,omitempty"`
	GeneratedAt       time.Time      `json:"generatedAt"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}
