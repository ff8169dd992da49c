// Package catalog holds the agency's service list and company contacts that
// the assistant quotes in its system prompt.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed services.json
var defaultCatalog []byte

type Company struct {
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	CompletedProjects int    `json:"completed_projects"`
}

type Service struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceMin    int    `json:"price_min"`
	PriceMax    int    `json:"price_max"`
	Time        string `json:"time"`
}

type Catalog struct {
	Company  Company            `json:"company"`
	Services map[string]Service `json:"services"`
}

// Parse decodes a catalog document and checks that it names the company.
func Parse(raw []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	if strings.TrimSpace(c.Company.Name) == "" {
		return Catalog{}, errors.New("catalog: company name is required")
	}
	return c, nil
}

// Default returns the catalog shipped with the binary.
func Default() Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// FormatPrice renders the price range of a service, e.g. "от 50 000 до 150 000 ₽".
func (c Catalog) FormatPrice(serviceID string) string {
	s, ok := c.Services[serviceID]
	if !ok {
		return "Цена по запросу"
	}
	return fmt.Sprintf("от %s до %s ₽", groupThousands(s.PriceMin), groupThousands(s.PriceMax))
}

// ServiceName returns the display name for a service id, or the id itself.
func (c Catalog) ServiceName(serviceID string) string {
	if s, ok := c.Services[serviceID]; ok {
		return s.Name
	}
	return serviceID
}

// ServicesText lists every service on its own line, ordered by id.
func (c Catalog) ServicesText() string {
	ids := make([]string, 0, len(c.Services))
	for id := range c.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		s := c.Services[id]
		lines = append(lines, fmt.Sprintf("- %s: %s (%s, срок: %s)", s.Name, s.Description, c.FormatPrice(id), s.Time))
	}
	return strings.Join(lines, "\n")
}

func groupThousands(n int) string {
	digits := strconv.Itoa(n)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
