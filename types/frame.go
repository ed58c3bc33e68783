package types

// DefaultSentinel is the terminal payload used by most backend deployments.
// Some deployments send the unbracketed form "DONE"; the parser takes the
// sentinel set as configuration.
const DefaultSentinel = "[DONE]"

// StreamFrame is one delimiter-bounded unit of the backend stream.
// Frames are ephemeral: they are consumed by the reassembler as soon as
// they are produced.
type StreamFrame struct {
	// Payload is the segment text with the event prefix stripped.
	Payload string `msgpack:"payload" json:"payload"`
	// IsTerminal is true when Payload equals a configured sentinel.
	IsTerminal bool `msgpack:"terminal" json:"terminal"`
}
