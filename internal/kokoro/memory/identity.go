package memory

import (
	"strconv"

	"github.com/google/uuid"
)

const (
	// PlatformSelf is the reserved platform of the singleton self-conversation
	// written by the consciousness loop.
	PlatformSelf = "self"

	// SelfPlatformID is the sentinel local id every PlatformSelf lookup is
	// normalised to.
	SelfPlatformID = "consciousness"
)

// conversationNamespace roots the name-based conversation ids. Changing it
// orphans every stored conversation.
var conversationNamespace = uuid.MustParse("6f1c7c1e-3b0a-5d2e-9a57-4b6f6b6f6b6f")

// NormalizePlatformID applies the self-conversation rule: any local id on
// PlatformSelf collapses to SelfPlatformID.
func NormalizePlatformID(platform, platformLocalID string) string {
	if platform == PlatformSelf {
		return SelfPlatformID
	}
	return platformLocalID
}

// DeriveConversationID returns the stable conversation id for a
// (platform, platform-local id) pair. The result is a version 5 UUID over a
// length-prefixed encoding of both parts, so ("ab", "c") and ("a", "bc")
// never share an id.
func DeriveConversationID(platform, platformLocalID string) string {
	platformLocalID = NormalizePlatformID(platform, platformLocalID)

	name := make([]byte, 0, len(platform)+len(platformLocalID)+8)
	name = strconv.AppendInt(name, int64(len(platform)), 10)
	name = append(name, ':')
	name = append(name, platform...)
	name = strconv.AppendInt(name, int64(len(platformLocalID)), 10)
	name = append(name, ':')
	name = append(name, platformLocalID...)

	return uuid.NewSHA1(conversationNamespace, name).String()
}
