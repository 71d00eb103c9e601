// Package credentials reads the local secrets file the robot uses for its
// delivery and chat integrations.
//
// The file is a YAML mapping from item name to an entry:
//
//	sftp:
//	  username: robot
//	  password: secret
//	  notes: sftp.example.com
//	slack:
//	  url: https://hooks.slack.com/services/...
//	  notes: xoxb-...
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrItemNotFound is returned by Get when the store has no entry of that name.
var ErrItemNotFound = errors.New("credentials item not found")

// Item is one named secret entry.
type Item struct {
	Name     string `yaml:"-"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Notes    string `yaml:"notes"`
}

// Store holds the parsed items keyed by lower-cased name.
type Store struct {
	items map[string]Item
}

// Load parses the credentials file at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Store from YAML bytes.
func Parse(data []byte) (*Store, error) {
	raw := map[string]Item{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	s := &Store{items: make(map[string]Item, len(raw))}
	for name, item := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := s.items[key]; dup {
			return nil, fmt.Errorf("duplicate credentials item %q", name)
		}
		item.Name = name
		item.Notes = strings.TrimSpace(item.Notes)
		s.items[key] = item
	}
	return s, nil
}

// Get returns the item called name. Names are matched case-insensitively.
func (s *Store) Get(name string) (Item, error) {
	if s == nil {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	item, ok := s.items[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	return item, nil
}

// Names lists the item names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.items))
	for _, item := range s.items {
		names = append(names, item.Name)
	}
	sort.Strings(names)
	return names
}
