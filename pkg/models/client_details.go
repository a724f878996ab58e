package models

// RadioClientLister exposes the radios currently connected to the embedded broker.
type RadioClientLister interface {
	GetClients() []*ClientDetails
}

// ClientDetails describes an MQTT client connected to the embedded broker.
type ClientDetails struct {
	UserID    string `json:"user"`
	ClientID  string `json:"client_id"`
	NodeID    string `json:"node_id,omitempty"`
	LongName  string `json:"long_name,omitempty"`
	ShortName string `json:"short_name,omitempty"`
	ProxyType string `json:"proxy_type,omitempty"`
	Address   string `json:"address"`
}
