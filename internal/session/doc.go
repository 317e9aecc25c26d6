// Package session is the relay's in-memory room registry.
//
// A Registry owns every room, its member set and its message history. Rooms
// are created by the first Join and destroyed together with their history
// when the last member leaves. Every mutation and the fan-out it triggers run
// under one lock, so a joining member always receives the history that was
// current at the moment of the join, and a broadcast never misses a member
// that joined concurrently. Outboxes must therefore never block.
package session
