// Package catalog holds the site's portfolio projects and advisory services
// and the repository that persists them.
package catalog

import (
	"encoding/json"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a project or service id is unknown.
var ErrNotFound = errors.New("catalog: not found")

// Project is a portfolio case study. AISystemInstruction seeds the
// project's strategy advisor.
type Project struct {
	ID                  string `json:"id" yaml:"id"`
	Title               string `json:"title" yaml:"title"`
	Category            string `json:"category" yaml:"category"`
	Description         string `json:"description" yaml:"description"`
	Image               string `json:"image" yaml:"image"`
	Challenge           string `json:"challenge" yaml:"challenge"`
	Strategy            string `json:"strategy" yaml:"strategy"`
	Outcome             string `json:"outcome" yaml:"outcome"`
	AISystemInstruction string `json:"aiSystemInstruction" yaml:"ai_system_instruction"`
}

// Service is an advisory offering.
type Service struct {
	ID              string `json:"id" yaml:"id"`
	Title           string `json:"title" yaml:"title"`
	Description     string `json:"description" yaml:"description"`
	IconName        Icon   `json:"iconName" yaml:"icon_name"`
	DetailedContent string `json:"detailedContent" yaml:"detailed_content"`
}

// Icon names one of the glyphs the site can render for a service.
type Icon string

const (
	IconLayers      Icon = "Layers"
	IconGlobe       Icon = "Globe"
	IconZap         Icon = "Zap"
	IconCpu         Icon = "Cpu"
	IconTarget      Icon = "Target"
	IconBarChart3   Icon = "BarChart3"
	IconTrendingUp  Icon = "TrendingUp"
	IconShieldCheck Icon = "ShieldCheck"
)

// Icons lists every known icon in display order.
var Icons = []Icon{
	IconLayers, IconGlobe, IconZap, IconCpu,
	IconTarget, IconBarChart3, IconTrendingUp, IconShieldCheck,
}

// ParseIcon maps name onto a known icon, ignoring case and surrounding
// whitespace. Unknown names fall back to IconLayers.
func ParseIcon(name string) Icon {
	name = strings.TrimSpace(name)
	for _, ic := range Icons {
		if strings.EqualFold(string(ic), name) {
			return ic
		}
	}
	return IconLayers
}

// IconNames returns the known icon names, for prompts and validation messages.
func IconNames() []string {
	out := make([]string, len(Icons))
	for i, ic := range Icons {
		out[i] = string(ic)
	}
	return out
}

// UnmarshalJSON normalises the decoded name with ParseIcon.
func (i *Icon) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*i = ParseIcon(s)
	return nil
}

// UnmarshalYAML normalises the decoded name with ParseIcon.
func (i *Icon) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	*i = ParseIcon(s)
	return nil
}

// normalize applies ParseIcon to a service built in code rather than decoded.
func (s Service) normalize() Service {
	s.IconName = ParseIcon(string(s.IconName))
	return s
}
