package radiosim

import (
	"fmt"
	"strings"
)

// Topology names a link layout for a set of devices
type Topology string

const (
	TopologyLine Topology = "line"
	TopologyRing Topology = "ring"
	TopologyFull Topology = "full"
	TopologyGrid Topology = "grid"
)

// ParseTopology validates a topology name
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(strings.ToLower(strings.TrimSpace(s))); t {
	case TopologyLine, TopologyRing, TopologyFull, TopologyGrid:
		return t, nil
	default:
		return "", fmt.Errorf("unknown topology %q (want line, ring, full or grid)", s)
	}
}

// DefaultDistance is the link distance used by Connect, in meters
const DefaultDistance = 3.0

// Connect links the named devices in the given layout. A grid is filled row
// by row with the smallest square width that fits every device.
func (a *Air) Connect(t Topology, names []string) error {
	link := func(i, j int) error {
		return a.Link(names[i], names[j], DefaultDistance)
	}

	n := len(names)
	switch t {
	case TopologyLine, TopologyRing:
		for i := 0; i+1 < n; i++ {
			if err := link(i, i+1); err != nil {
				return err
			}
		}
		if t == TopologyRing && n > 2 {
			return link(n-1, 0)
		}
	case TopologyFull:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if err := link(i, j); err != nil {
					return err
				}
			}
		}
	case TopologyGrid:
		width := 1
		for width*width < n {
			width++
		}
		for i := 0; i < n; i++ {
			if (i+1)%width != 0 && i+1 < n {
				if err := link(i, i+1); err != nil {
					return err
				}
			}
			if i+width < n {
				if err := link(i, i+width); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unknown topology %q", t)
	}
	return nil
}

// NodeNames returns n device names of the form prefix-01, prefix-02, ...
func NodeNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%02d", prefix, i+1)
	}
	return names
}
