package httpdto

type VideoSessionRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}
