// Package faultlist parses the textual fault-list input (§6.3): a
// sequence of entries each naming a logical path, a Fault Sequence
// string, and exactly one of a block or sector index, and installs them
// into a Block Manager.
package faultlist

import (
	"fmt"
	"os"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/faultseq"
	"gopkg.in/yaml.v3"
)

// Entry is one textual fault-list record. Exactly one of Block or Sector
// must be set; BlockSet/SectorSet distinguish "absent" from "zero".
type Entry struct {
	Path   string `yaml:"path"`
	Seq    string `yaml:"seq"`
	Block  *int64 `yaml:"block,omitempty"`
	Sector *int64 `yaml:"sector,omitempty"`
}

// List is the top-level fault-list document: a plain array of entries.
type List []Entry

// Parse decodes a fault-list document from data.
func Parse(data []byte) (List, error) {
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("faultlist: parsing: %w", err)
	}
	for i, e := range l {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("faultlist: entry %d: %w", i, err)
		}
	}
	return l, nil
}

// Load reads and parses a fault-list document from path.
func Load(path string) (List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("faultlist: reading %q: %w", path, err)
	}
	return Parse(data)
}

func (e Entry) validate() error {
	if e.Path == "" {
		return fmt.Errorf("missing path")
	}
	if e.Seq == "" {
		return fmt.Errorf("missing seq")
	}
	if e.Block != nil && e.Sector != nil {
		return fmt.Errorf("path %q: block and sector are mutually exclusive", e.Path)
	}
	if e.Block == nil && e.Sector == nil {
		return fmt.Errorf("path %q: exactly one of block or sector is required", e.Path)
	}
	return nil
}

// Apply installs every entry in l into blocks, in order. An error from
// any entry (a malformed Fault Sequence, or an offset that already has a
// sequence installed) aborts immediately; entries already applied remain
// installed.
func Apply(blocks *block.Manager, l List) error {
	for _, e := range l {
		seq, err := faultseq.New(e.Seq)
		if err != nil {
			return fmt.Errorf("faultlist: path %q: %w", e.Path, err)
		}

		var idx int64
		isBlock := e.Block != nil
		if isBlock {
			idx = *e.Block
		} else {
			idx = *e.Sector
		}

		if err := blocks.EnableFailuresOn(e.Path, seq, idx, isBlock); err != nil {
			return fmt.Errorf("faultlist: path %q: %w", e.Path, err)
		}
	}
	return nil
}
