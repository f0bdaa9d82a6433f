package chat

import (
	"fmt"
	"slices"
	"time"
)

type InvitationStatus string

const (
	InvitationActive    InvitationStatus = "active"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationEnded     InvitationStatus = "ended"
	InvitationTimedOut  InvitationStatus = "timedOut"
)

func (s InvitationStatus) Terminal() bool {
	return s == InvitationCancelled || s == InvitationEnded || s == InvitationTimedOut
}

// Invitation is the state of a video-call invitation embedded in a message.
type Invitation struct {
	RoomID          string           `json:"roomId"`
	Status          InvitationStatus `json:"status"`
	BannerURL       string           `json:"bannerUrl,omitempty"`
	JoinURL         string           `json:"joinUrl"`
	CreatedBy       string           `json:"createdBy"`
	MaxParticipants int              `json:"maxParticipants"`
	SwapID          string           `json:"swapId,omitempty"`
	Participants    []string         `json:"participants,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	ClosedAt        *time.Time       `json:"closedAt,omitempty"`
}

// Transition moves an active invitation to a terminal status. It reports
// false and leaves the invitation untouched when it is not active.
func (i *Invitation) Transition(to InvitationStatus, at time.Time) bool {
	if i.Status != InvitationActive || !to.Terminal() {
		return false
	}
	i.Status = to
	i.ClosedAt = &at
	return true
}

// AddParticipant records userID as present in the room.
func (i *Invitation) AddParticipant(userID string) bool {
	if slices.Contains(i.Participants, userID) {
		return false
	}
	i.Participants = append(i.Participants, userID)
	return true
}

// RemoveParticipant drops userID from the room and reports whether it was present.
func (i *Invitation) RemoveParticipant(userID string) bool {
	idx := slices.Index(i.Participants, userID)
	if idx < 0 {
		return false
	}
	i.Participants = slices.Delete(i.Participants, idx, idx+1)
	return true
}

type SystemAction string

const (
	ActionJoinedVideo    SystemAction = "joinedVideo"
	ActionLeftVideo      SystemAction = "leftVideo"
	ActionCancelledVideo SystemAction = "cancelledVideo"
	ActionCallEnded      SystemAction = "callEnded"
	ActionTimedOut       SystemAction = "timedOut"
)

func (a SystemAction) Valid() bool {
	switch a {
	case ActionJoinedVideo, ActionLeftVideo, ActionCancelledVideo, ActionCallEnded, ActionTimedOut:
		return true
	}
	return false
}

// SystemMeta describes what a system message reports.
type SystemMeta struct {
	Action    SystemAction `json:"action"`
	RoomID    string       `json:"roomId"`
	ActorID   string       `json:"actorId"`
	ActorName string       `json:"actorName"`
}

// Text is the human-readable line shown for the system message.
func (s SystemMeta) Text() string {
	actor := s.ActorName
	if actor == "" {
		actor = "Someone"
	}
	switch s.Action {
	case ActionJoinedVideo:
		return fmt.Sprintf("%s joined the video call", actor)
	case ActionLeftVideo:
		return fmt.Sprintf("%s left the video call", actor)
	case ActionCancelledVideo:
		return fmt.Sprintf("%s cancelled the video call", actor)
	case ActionCallEnded:
		return "Video call ended"
	case ActionTimedOut:
		return "Video call timed out"
	}
	return string(s.Action)
}
