// Package listener contains the live-chat polling engine.
//
// A Listener drives one chat session end to end:
//   - resolves the live chat id for the configured stream (unless pinned
//     by configuration) and posts a one-shot greeting,
//   - polls the paginated feed, classifies each raw record, and hands
//     matches to the trigger engine, which replies with generated banter
//     under a per-author cooldown,
//   - paces itself from the provider's interval hint and the audience
//     size, backs off exponentially on transient failures, and rotates
//     credentials once on auth failures before giving up.
//
// The engine is provider-agnostic: anything implementing ChatService can
// sit behind it (see the youtubeapi and chat packages). All state lives in
// the single run goroutine; Stop cancels it promptly, including mid-sleep.
package listener
