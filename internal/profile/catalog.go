package profile

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	v "github.com/spf13/viper"
)

const keyDelimiter = "::"

// Catalog is the set of profiles available to one invocation.
type Catalog struct {
	profiles map[string]Profile
	source   string
}

// NewCatalog returns a catalog holding only the built-in profiles.
func NewCatalog() *Catalog {
	return &Catalog{profiles: Builtins()}
}

// Load reads profiles from a YAML (or any viper supported) file on top of
// the built-ins. Keys present in the file override the built-in profile of
// the same name field by field. An empty path or a missing file yields the
// built-ins only.
func Load(path string) (*Catalog, error) {
	c := NewCatalog()
	if path == "" {
		return c, nil
	}

	path = os.ExpandEnv(path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("stat profile file: %w", err)
	}

	vip := v.NewWithOptions(v.KeyDelimiter(keyDelimiter))
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile file %s: %w", path, err)
	}
	c.source = path

	for name := range vip.GetStringMap("profiles") {
		if err := ValidateName(name); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p := c.profiles[name]
		p.Args = slices.Clone(p.Args)
		if err := vip.UnmarshalKey("profiles"+keyDelimiter+name, &p); err != nil {
			return nil, fmt.Errorf("%s: profile %s: %w", path, name, err)
		}
		p.Name = name
		if _, err := p.Descriptor(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c.profiles[name] = p
	}

	return c, nil
}

// Get returns the named profile. Names are case-insensitive.
func (c *Catalog) Get(name string) (Profile, error) {
	if name == "" {
		name = Generic
	}
	p, ok := c.profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(c.Names(), ", "))
	}
	return p, nil
}

// Names returns the profile names in sorted order.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.profiles))
}

// Source is the file the catalog was loaded from, if any.
func (c *Catalog) Source() string {
	return c.source
}
