// Package webchat exposes the relay over HTTP.
//
// Routes:
//   - POST /           send a message, answer {"reply": ...} or {"error": ...}
//   - POST /reset      clear the shared transcript, answer {"ok": true}
//   - GET  /transcript current transcript
//   - GET  /ws         live feed of transcript events
//
// Every client talks to the same conversation; requests carry no session identifier.
package webchat
