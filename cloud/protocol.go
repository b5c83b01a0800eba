package cloud

// Frame types exchanged with the management server.
const (
	// device to server
	frameRegister  = "register"
	frameNotify    = "notify"
	frameAuthorize = "authorize"

	// server to device
	frameRegistered   = "registered"
	frameUnregistered = "unregistered"
	frameError        = "error"
	frameUpdate       = "update"
)

// frame is a single JSON message on the websocket. Only the fields of its
// type are set.
type frame struct {
	Type string `json:"type"`

	Endpoint  string     `json:"endpoint,omitempty"`
	Resources []Resource `json:"resources,omitempty"`

	Path  string `json:"path,omitempty"`
	Value string `json:"value,omitempty"`

	Token    string `json:"token,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Decision string `json:"decision,omitempty"`

	Code        int    `json:"code,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	Url  string `json:"url,omitempty"`
	Size uint32 `json:"size,omitempty"`
}
