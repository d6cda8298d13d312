//go:build darwin

package symparse

import (
	"debug/macho"
	"path/filepath"
	"strings"

	"github.com/embervale/jprofiler/internal/codecache"
)

// ParseMachOFile parses the Mach-O object at path (spec §4.E Mach-O
// pass): LC_SEGMENT_64 __TEXT sets the text base and image bounds,
// __DATA __la_symbol_ptr marks the GOT, and LC_SYMTAB's nlist_64
// table supplies symbol names and values. Names with a leading '_'
// are stripped to a single leading underscore, matching dyld's own
// C-symbol convention.
func ParseMachOFile(path string, loadBase uintptr, index int) (*codecache.Image, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img := codecache.NewImage(filepath.Base(path), index)

	for _, seg := range f.Segments() {
		switch seg.Name {
		case "__TEXT":
			img.TextBase = loadBase + uintptr(seg.Addr)
			img.Add(loadBase+uintptr(seg.Addr), uintptr(seg.Memsz), []byte("__TEXT"), true)
		case "__DATA", "__DATA_CONST":
			for _, sec := range sectionsOf(f, seg.Name) {
				if sec.Name == "__la_symbol_ptr" {
					img.GotStart = loadBase + uintptr(sec.Addr)
					img.GotEnd = img.GotStart + uintptr(sec.Size)
				}
			}
		}
	}

	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			if sym.Value == 0 {
				continue
			}
			name := trimLeadingUnderscore(sym.Name)
			img.Add(loadBase+uintptr(sym.Value), 0, []byte(name), false)
		}
	}

	img.Sort()
	return img, nil
}

func sectionsOf(f *macho.File, segName string) []*macho.Section {
	var out []*macho.Section
	for _, sec := range f.Sections {
		if sec.Seg == segName {
			out = append(out, sec)
		}
	}
	return out
}

// trimLeadingUnderscore collapses dyld's leading-underscore C-symbol
// convention to a single underscore, spec §4.E Mach-O pass, last
// sentence.
func trimLeadingUnderscore(name string) string {
	trimmed := strings.TrimLeft(name, "_")
	if len(trimmed) == len(name) {
		return name
	}
	return "_" + trimmed
}
