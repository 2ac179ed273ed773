// Package chat adapts Twitch IRC to the listener's polled chat surface.
//
// The YouTube provider is naturally a paginated poll; Twitch is a push
// stream, so TwitchService buffers incoming IRC messages in memory and
// hands them out page by page when the listener asks. Outgoing replies go
// through the same IRC connection.
//
// Credentials: the IRC client requires a bot username and an OAuth token
// with chat:read/chat:edit scopes. Stream metadata (liveness, viewers)
// comes from Helix with an app token.
package chat
