package detector

import (
	"fmt"
	"strings"
	"time"
)

// Entry is the config form of an additional detector.
type Entry struct {
	Type    string        `mapstructure:"type"`
	Command string        `mapstructure:"command"`
	Names   []string      `mapstructure:"names"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FromEntries builds detectors from config entries.
func FromEntries(entries []Entry) ([]Detector, error) {
	dets := make([]Detector, 0, len(entries))
	for i, e := range entries {
		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case "command":
			if strings.TrimSpace(e.Command) == "" {
				return nil, fmt.Errorf("detector %d: command detector requires command", i)
			}
			dets = append(dets, CommandDetector{Command: e.Command, Timeout: e.Timeout})
		case "name":
			if len(e.Names) == 0 {
				return nil, fmt.Errorf("detector %d: name detector requires names", i)
			}
			dets = append(dets, NewNameDetector(e.Names...))
		default:
			return nil, fmt.Errorf("detector %d: unknown detector type %q", i, e.Type)
		}
	}
	return dets, nil
}
