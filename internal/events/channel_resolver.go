package events

import "strings"

const (
	chatChannelPrefix = "channel:chat:"
	userChannelPrefix = "channel:user:"
	presenceChannel   = "channel:presence"

	// ChannelPattern matches every channel an envelope can be published on.
	ChannelPattern = "channel:*"
)

// ChannelFor resolves the pub/sub channel an envelope travels on.
func ChannelFor(env Envelope) string {
	switch {
	case env.Room != "":
		return chatChannelPrefix + env.Room
	case env.UserID != "":
		return userChannelPrefix + env.UserID
	default:
		return presenceChannel
	}
}

// IsEventChannel reports whether channel carries envelopes.
func IsEventChannel(channel string) bool {
	return channel == presenceChannel ||
		strings.HasPrefix(channel, chatChannelPrefix) ||
		strings.HasPrefix(channel, userChannelPrefix)
}
