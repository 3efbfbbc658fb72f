package types

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ConnectionType names the transport family behind a ConnectionDescription.
// Collage only ships a TCP implementation (core.TCPConnection); the
// others are listed because the wire protocol and handshake do not care
// which one carries them (spec.md section 1: transport drivers are an
// external collaborator behind the Connection interface).
type ConnectionType string

const (
	ConnectionTCP       ConnectionType = "tcp"
	ConnectionNamedPipe ConnectionType = "pipe"
	ConnectionRDMA      ConnectionType = "rdma"
)

// ConnectionDescription configures one listening or outbound endpoint.
type ConnectionDescription struct {
	Type     ConnectionType `yaml:"type"`
	Hostname string         `yaml:"hostname"`
	Port     uint16         `yaml:"port"`
	Filename string         `yaml:"filename,omitempty"`

	// Bandwidth caps the connection's send rate in bytes/second. Zero
	// means unlimited.
	Bandwidth uint64 `yaml:"bandwidth,omitempty"`
}

// Settings is the global, process-wide configuration surface named in
// spec.md section 6: the object-buffer cap and the keep-alive timers.
type Settings struct {
	// ObjectBufferCap is the InstanceCache's total-bytes budget, accepted
	// as a human-readable size ("64mb", "1gb") and resolved to Bytes.
	ObjectBufferCap string        `yaml:"object_buffer_cap"`
	Bytes           uint64        `yaml:"-"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	Connections []ConnectionDescription `yaml:"connections"`
}

// DefaultSettings returns conservative defaults matching the original
// Collage library's defaults order of magnitude.
func DefaultSettings() Settings {
	return Settings{
		ObjectBufferCap:   "64mb",
		Bytes:             64 * humanize.MByte,
		KeepAliveTimeout:  10 * time.Second,
		KeepAliveInterval: 2 * time.Second,
	}
}

// LoadSettings reads a YAML settings document, resolving the human-
// readable ObjectBufferCap into Bytes.
func LoadSettings(r io.Reader) (Settings, error) {
	settings := DefaultSettings()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&settings); err != nil && err != io.EOF {
		return Settings{}, err
	}
	if settings.ObjectBufferCap != "" {
		n, err := humanize.ParseBytes(settings.ObjectBufferCap)
		if err != nil {
			return Settings{}, err
		}
		settings.Bytes = n
	}
	return settings, nil
}
