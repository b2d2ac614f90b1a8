package observerproto

import "voxelrule.ai/internal/protocol"

// Version is the observer protocol version.
const Version = protocol.Version

// Client -> Server. First message on the observer WS connection. Re-sending
// it switches the connection to another run.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`

	// MaxFPS lowers the server frame rate for this connection; 0 keeps the default.
	MaxFPS float64 `json:"max_fps,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	Runs            []RunInfo `json:"runs"`
}

// RunInfo describes a live or finished run.
type RunInfo struct {
	RunID  string   `json:"run_id"`
	Model  string   `json:"model"`
	Seed   int64    `json:"seed"`
	Dims   [3]int   `json:"dims"`
	Legend string   `json:"legend"`
	Colors []string `json:"colors,omitempty"`
	Done   bool     `json:"done"`
}

// Server -> Client. Sent once after SUBSCRIBE.
type RunMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Run             RunInfo `json:"run"`
}

// Server -> Client. One grid state. A grid switch (map, wfc) changes Dims
// and Legend between frames.
//
// Encoding "RLE_U8" means: decode base64, then read (value byte, uvarint
// run length) pairs; cells are ordered x fastest, then y, then z.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Step            int    `json:"step"`
	Final           bool   `json:"final,omitempty"`
	Dims            [3]int `json:"dims"`
	Legend          string `json:"legend"`
	Digest          string `json:"digest"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
}

// Server -> Client. The run finished; no more frames follow.
type EndMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Steps           int    `json:"steps"`
	Result          string `json:"result"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
