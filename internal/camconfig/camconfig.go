// Package camconfig loads the per-camera configuration record spec §6
// describes: the external shape a caller provides to get a session.
package camconfig

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/discovery"
	"github.com/camlink/bc-go/internal/session"
)

// Camera is one entry in a cameras.yaml file.
type Camera struct {
	Name            string `yaml:"name"`
	Address         string `yaml:"address,omitempty"`
	UID             string `yaml:"uid,omitempty"`
	DiscoveryMethod string `yaml:"discovery_method,omitempty"`
	ChannelID       uint8  `yaml:"channel_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password,omitempty"`
	MaxEncryption   string `yaml:"max_encryption"`
	PrintFormat     string `yaml:"print_format,omitempty"`
}

// File is the top-level shape of a cameras.yaml file: a flat list, since
// nothing in spec §6 calls for grouping or inheritance between entries.
type File struct {
	Cameras []Camera `yaml:"cameras"`
}

// Load reads and parses a cameras.yaml file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindOther, "camconfig.Load", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, bcerr.Wrap(bcerr.KindOther, "camconfig.Load", err)
	}
	for i := range f.Cameras {
		f.Cameras[i].applyDefaults()
	}
	return &f, nil
}

func (c *Camera) applyDefaults() {
	if c.MaxEncryption == "" {
		c.MaxEncryption = "aes" // strictest, matching crypto.ParseMode's own fallback
	}
}

// MaxEncryptionMode parses MaxEncryption case-insensitively, defaulting
// to the strictest mode on anything unrecognized (spec §6).
func (c *Camera) MaxEncryptionMode() crypto.Mode {
	return crypto.ParseMode(c.MaxEncryption)
}

// PrintFormatValue parses PrintFormat, defaulting to None.
func (c *Camera) PrintFormatValue() session.PrintFormat {
	switch c.PrintFormat {
	case "human":
		return session.PrintFormatHuman
	case "xml":
		return session.PrintFormatXML
	default:
		return session.PrintFormatNone
	}
}

// AllowedMask parses DiscoveryMethod into the cumulative mask it implies,
// defaulting to MaskRelay (every method eligible) when unset.
func (c *Camera) AllowedMask() discovery.MethodMask {
	switch c.DiscoveryMethod {
	case "none":
		return discovery.MaskNone
	case "local":
		return discovery.MaskLocal
	case "remote":
		return discovery.MaskRemote
	case "map":
		return discovery.MaskMap
	case "relay":
		return discovery.MaskRelay
	case "debug":
		return discovery.MaskDebug
	default:
		return discovery.MaskRelay
	}
}

// Credentials extracts this entry's login credentials.
func (c *Camera) Credentials() session.Credentials {
	return session.Credentials{Username: c.Username, Password: c.Password}
}
