package domain

// DefaultSTUNURL is used when no ICE server is configured at all.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// ICEServer holds a single STUN/TURN server entry.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// ICEConfig is the STUN/TURN configuration handed to every peer connection.
type ICEConfig struct {
	STUNURL      string `json:"stunUrl"`
	TURNURL      string `json:"turnUrl,omitempty"`
	TURNUsername string `json:"turnUsername,omitempty"`
	TURNPassword string `json:"turnPassword,omitempty"`
}

// Servers expands the config into server entries. The public default STUN
// server is returned only when nothing was configured.
func (c ICEConfig) Servers() []ICEServer {
	var servers []ICEServer
	if c.STUNURL != "" {
		servers = append(servers, ICEServer{URL: c.STUNURL})
	}
	if c.TURNURL != "" {
		servers = append(servers, ICEServer{
			URL:        c.TURNURL,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	if len(servers) == 0 {
		servers = append(servers, ICEServer{URL: DefaultSTUNURL})
	}
	return servers
}
