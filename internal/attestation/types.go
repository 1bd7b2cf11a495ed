package attestation

// Bundle is the local attestation material reported by the daemon's Info.
// app_cert is expected to carry RA-TLS quote extensions.
type Bundle struct {
	AppCert     string `json:"app_cert"`
	TCBInfo     string `json:"tcb_info"`
	AppID       string `json:"app_id,omitempty"`
	Instance    string `json:"instance_id,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	ComposeHash string `json:"compose_hash,omitempty"`
}

// VerifiedIdentity is the normalized identity extracted from a verified
// attestation bundle.
type VerifiedIdentity struct {
	AppID      string
	InstanceID string
	DeviceID   string
}
