package fedcomm

import (
	"os"
	"time"

	"github.com/goccy/go-json"
)

// TransportKind selects between the two concrete transport backends.
type TransportKind string

const (
	TransportStream TransportKind = "stream"
	TransportQueue  TransportKind = "queue"
)

// Config collects everything an Endpoint needs so a caller (or
// cmd/fedcore) never has to reach past the property lock to configure
// one directly. Config loading itself (schema, hierarchies,
// hot-reload) is explicitly out of scope; this is deliberately a flat
// struct plus a thin JSON file loader.
type Config struct {
	BrokerTarget string
	LocalTarget  string

	PortNumber int // portUnknown until assigned
	PortStart  int

	MaxMessageSize  int
	MaxMessageCount int

	ReuseAddress bool

	Transport   TransportKind
	Compression CompressionCodec

	ConnectTimeout time.Duration
}

// DefaultConfig mirrors the defaults §6/§8 assume in the absence of
// caller overrides.
func DefaultConfig() *Config {
	return &Config{
		PortNumber:      portUnknown,
		PortStart:       PortRangeStart,
		MaxMessageSize:  1 << 20,
		MaxMessageCount: 1024,
		Transport:       TransportStream,
		Compression:     CompressionNone,
		ConnectTimeout:  5 * time.Second,
	}
}

// configFile is the on-disk JSON shape optionally loaded via
// LoadConfigFile. cmd/fedcore applies its CLI flags first and loads
// the file afterwards, so any field set in the file overrides the
// corresponding flag.
type configFile struct {
	BrokerTarget    string `json:"broker_target"`
	LocalTarget     string `json:"local_target"`
	PortNumber      *int   `json:"port_number"`
	PortStart       *int   `json:"port_start"`
	MaxMessageSize  *int   `json:"max_message_size"`
	MaxMessageCount *int   `json:"max_message_count"`
	ReuseAddress    *bool  `json:"reuse_address"`
	Transport       string `json:"transport"`
	Compression     string `json:"compression"`
}

// LoadConfigFile applies a JSON federate-config file on top of base,
// overwriting only the fields present in the file.
func LoadConfigFile(base *Config, path string) (*Config, error) {
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf configFile
	if err := json.Unmarshal(by, &cf); err != nil {
		return nil, err
	}
	cfg := *base
	if cf.BrokerTarget != "" {
		cfg.BrokerTarget = cf.BrokerTarget
	}
	if cf.LocalTarget != "" {
		cfg.LocalTarget = cf.LocalTarget
	}
	if cf.PortNumber != nil {
		cfg.PortNumber = *cf.PortNumber
	}
	if cf.PortStart != nil {
		cfg.PortStart = *cf.PortStart
	}
	if cf.MaxMessageSize != nil {
		cfg.MaxMessageSize = *cf.MaxMessageSize
	}
	if cf.MaxMessageCount != nil {
		cfg.MaxMessageCount = *cf.MaxMessageCount
	}
	if cf.ReuseAddress != nil {
		cfg.ReuseAddress = *cf.ReuseAddress
	}
	if cf.Transport != "" {
		cfg.Transport = TransportKind(cf.Transport)
	}
	if cf.Compression != "" {
		codec, err := ParseCompressionCodec(cf.Compression)
		if err != nil {
			return nil, err
		}
		cfg.Compression = codec
	}
	return &cfg, nil
}
