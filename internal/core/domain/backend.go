package domain

// BackendKind discriminates the backend descriptor union.
type BackendKind string

const (
	BackendContainer BackendKind = "container"
	BackendHost      BackendKind = "host"
	BackendRemote    BackendKind = "remote"
)

// Backend describes where the agent process lives. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type Backend struct {
	Kind BackendKind `yaml:"kind" json:"kind"`

	// Container backend
	ContainerID  string `yaml:"container_id,omitempty"  json:"container_id,omitempty"`
	InstanceName string `yaml:"instance_name,omitempty" json:"instance_name,omitempty"`

	// Host backend
	Host       string `yaml:"host,omitempty"        json:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"        json:"port,omitempty"`
	SocketPath string `yaml:"socket_path,omitempty" json:"socket_path,omitempty"`

	// Remote backend
	URL    string `yaml:"url,omitempty"     json:"url,omitempty"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}
