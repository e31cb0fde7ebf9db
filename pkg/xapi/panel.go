package xapi

import (
	"encoding/xml"
	"fmt"
)

// CustomIcon is the Icon value the device expects when a downloaded icon is referenced.
const CustomIcon = "Custom"

// Panel is a home screen button.
type Panel struct {
	ID    string
	Name  string
	Color string

	// Icon is one of the device's built-in icon names. Ignored when IconID is set.
	Icon string

	// IconID references an icon previously fetched with Host.DownloadIcon.
	IconID string
}

type extensionsXML struct {
	XMLName xml.Name `xml:"Extensions"`
	Panel   panelXML `xml:"Panel"`
}

type panelXML struct {
	Location     string         `xml:"Location"`
	Type         string         `xml:"Type"`
	Icon         string         `xml:"Icon"`
	CustomIcon   *customIconXML `xml:"CustomIcon,omitempty"`
	Color        string         `xml:"Color,omitempty"`
	Name         string         `xml:"Name"`
	ActivityType string         `xml:"ActivityType"`
}

type customIconXML struct {
	ID string `xml:"Id"`
}

// Body returns the panel definition the device's Panel.Save command takes as its body.
func (p Panel) Body() (string, error) {
	def := extensionsXML{
		Panel: panelXML{
			Location:     "HomeScreen",
			Type:         "Home",
			Icon:         p.Icon,
			Color:        p.Color,
			Name:         p.Name,
			ActivityType: "Custom",
		},
	}
	if p.IconID != "" {
		def.Panel.Icon = CustomIcon
		def.Panel.CustomIcon = &customIconXML{ID: p.IconID}
	}

	b, err := xml.MarshalIndent(def, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode panel %s: %w", p.ID, err)
	}

	return string(b), nil
}
