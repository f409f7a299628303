// Package bot implements the user-facing chat commands: registration,
// browsing and subscribing to events, and the reminder opt-out.
package bot
