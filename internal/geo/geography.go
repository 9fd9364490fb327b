// Package geo knows which constituency each official represents, which
// wards make up a constituency, and where a visitor is.
package geo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/civic-sage/backend/internal/storage/models"
)

var ErrUnknownOfficial = errors.New("unknown official")

type Store interface {
	Officials(ctx context.Context) ([]models.Official, error)
	Official(ctx context.Context, name string) (models.Official, error)
	Wards(ctx context.Context, constituency string) ([]models.Ward, error)
}

type Constituency struct {
	Name  string        `yaml:"name"`
	Code  string        `yaml:"code"`
	Wards []models.Ward `yaml:"wards"`
}

// Static is an in-memory geography, usually read from a YAML file.
type Static struct {
	OfficialList   []models.Official `yaml:"officials"`
	Constituencies []Constituency    `yaml:"constituencies"`
}

func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geography file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Static, error) {
	var s Static
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse geography: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Static) validate() error {
	known := make(map[string]bool, len(s.Constituencies))
	for _, c := range s.Constituencies {
		if c.Name == "" {
			return errors.New("geography: constituency without a name")
		}
		known[c.Name] = true
	}
	for _, o := range s.OfficialList {
		if o.Name == "" {
			return errors.New("geography: official without a name")
		}
		if !known[o.Constituency] {
			return fmt.Errorf("geography: official %q represents unknown constituency %q", o.Name, o.Constituency)
		}
	}
	return nil
}

func (s *Static) Officials(context.Context) ([]models.Official, error) {
	out := make([]models.Official, len(s.OfficialList))
	for i, o := range s.OfficialList {
		out[i] = s.withCode(o)
	}
	return out, nil
}

// Official looks a name up case-insensitively.
func (s *Static) Official(_ context.Context, name string) (models.Official, error) {
	for _, o := range s.OfficialList {
		if strings.EqualFold(o.Name, strings.TrimSpace(name)) {
			return s.withCode(o), nil
		}
	}
	return models.Official{}, fmt.Errorf("%w: %s", ErrUnknownOfficial, name)
}

func (s *Static) Wards(_ context.Context, constituency string) ([]models.Ward, error) {
	for _, c := range s.Constituencies {
		if c.Name == constituency {
			return append([]models.Ward(nil), c.Wards...), nil
		}
	}
	return nil, fmt.Errorf("no wards for constituency %q", constituency)
}

func (s *Static) withCode(o models.Official) models.Official {
	if o.ConstituencyCode != "" {
		return o
	}
	for _, c := range s.Constituencies {
		if c.Name == o.Constituency {
			o.ConstituencyCode = c.Code
		}
	}
	return o
}
