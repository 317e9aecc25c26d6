// Package directlink exchanges chat frames directly between nearby devices.
//
// The primary path is a short-range radio channel reached through a Radio
// driver. When the radio cannot be opened the transport falls back to a mesh
// of WebRTC data channels between peers on the local network, negotiated
// through a Signaler. Both paths carry the same JSON frames and produce the
// same Event values, so callers never need to know which one is active.
//
// There is no arbiter on this path: room membership is self-declared. A peer
// that joins broadcasts user-joined and every peer already in the room answers
// with user-present, which lets the newcomer learn who is around. Nothing
// stops a peer from claiming any room.
package directlink
