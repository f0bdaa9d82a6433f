// Package video issues access tokens for video rooms.
package video

import (
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// LiveKitIssuer signs room tokens with the video app credentials.
type LiveKitIssuer struct {
	appID  string
	secret string
}

func NewLiveKitIssuer(appID, secret string) *LiveKitIssuer {
	return &LiveKitIssuer{appID: appID, secret: secret}
}

func (i *LiveKitIssuer) Issue(ctx context.Context, userID, displayName, roomID string, ttl time.Duration) (string, error) {
	if i.appID == "" || i.secret == "" {
		return "", errors.New("video credentials not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	at := auth.NewAccessToken(i.appID, i.secret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomID,
	}
	at.AddGrant(grant).
		SetIdentity(userID).
		SetName(displayName).
		SetValidFor(ttl)

	return at.ToJWT()
}
