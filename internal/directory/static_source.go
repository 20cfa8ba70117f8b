package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// StaticSource serves user records from a YAML (or JSON) fixture for local
// development without a running backend.
type StaticSource struct {
	users []User
}

// NewStaticSource parses a document of the form {"users": [...]}.
func NewStaticSource(data []byte) (*StaticSource, error) {
	type doc struct {
		Users []User `yaml:"users"`
	}
	var parsed doc
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("directory: parse fixture: %w", err)
	}

	source := &StaticSource{
		users: make([]User, 0, len(parsed.Users)),
	}
	seen := make(map[string]struct{}, len(parsed.Users))
	for _, u := range parsed.Users {
		if u.ID == "" {
			return nil, errors.New("directory: fixture contains user without id")
		}
		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("directory: fixture contains duplicate id %q", u.ID)
		}
		seen[u.ID] = struct{}{}
		source.users = append(source.users, u)
	}
	return source, nil
}

// LoadStaticSource reads a fixture from disk.
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read fixture: %w", err)
	}
	return NewStaticSource(data)
}

// FetchAllUsers returns a copy of the fixture in file order.
func (s *StaticSource) FetchAllUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError(err)
	}
	return slices.Clone(s.users), nil
}
