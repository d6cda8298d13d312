//go:build linux

// Package symparse implements the image/symbol parser (spec §4.E):
// walking /proc/self/maps, parsing each distinct mapped ELF object at
// most once, and emitting a codecache.Image per object with symtab,
// build-id/debuglink, dynsym and PLT-synthesized symbols. Only
// file-backed regions are parsed; the vDSO and other anonymous
// mappings are skipped. Ported from the original source's sym_parser + elf
// modules, rebuilt on Go's debug/elf rather than hand-rolled section
// parsing.
package symparse

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/embervale/jprofiler/internal/codecache"
)

// MappedRegion is one parsed line of /proc/self/maps describing an
// executable, readable region backed by a file.
type MappedRegion struct {
	Start, End uintptr
	Offset     uint64
	Dev        string
	Inode      uint64
	Path       string
}

// ReadSelfMaps parses /proc/self/maps, returning only executable,
// file-backed regions (spec §4.E "each executable, readable region
// with a distinct inode").
func ReadSelfMaps() ([]MappedRegion, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []MappedRegion
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r, ok := parseMapsLine(sc.Text())
		if !ok {
			continue
		}
		regions = append(regions, r)
	}
	return regions, sc.Err()
}

// parseMapsLine parses one /proc/<pid>/maps line of the form:
//
//	address           perms offset  dev   inode      pathname
//	00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/foo
//
// returning ok=false for anonymous mappings, non-executable regions,
// or lines that fail to parse.
func parseMapsLine(line string) (MappedRegion, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return MappedRegion{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return MappedRegion{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return MappedRegion{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return MappedRegion{}, false
	}
	perms := fields[1]
	if !strings.Contains(perms, "x") || !strings.Contains(perms, "r") {
		return MappedRegion{}, false
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return MappedRegion{}, false
	}
	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil || inode == 0 {
		return MappedRegion{}, false
	}
	path := ""
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}
	if path == "" {
		return MappedRegion{}, false
	}
	return MappedRegion{
		Start:  uintptr(start),
		End:    uintptr(end),
		Offset: offset,
		Dev:    fields[3],
		Inode:  inode,
		Path:   path,
	}, true
}

// seenKey identifies an already-parsed image by the (device, inode)
// pair that survives dlopen re-maps at a different base address, or by
// base address alone for anonymous/[vdso]-style regions.
type seenKey struct {
	dev   string
	inode uint64
	base  uintptr
}

// Parser tracks which images have already been parsed so a library
// mapped multiple times (common for shared text segments) is only
// walked once, per spec §4.E.
type Parser struct {
	seen map[seenKey]bool
}

// NewParser returns an empty Parser.
func NewParser() *Parser { return &Parser{seen: map[seenKey]bool{}} }

// ParseRegion parses the ELF object backing region, returning the
// resulting Image (already Sort()ed) or nil if region was already
// parsed or isn't a valid ELF object this agent can read.
func (p *Parser) ParseRegion(region MappedRegion, index int) (*codecache.Image, error) {
	key := seenKey{dev: region.Dev, inode: region.Inode}
	if region.Inode == 0 {
		key = seenKey{base: region.Start}
	}
	if p.seen[key] {
		return nil, nil
	}
	p.seen[key] = true

	img, err := ParseELFFile(region.Path, region.Start, index)
	if err != nil {
		return nil, fmt.Errorf("symparse: %s: %w", region.Path, err)
	}
	return img, nil
}

// ParseELFFile validates and parses the ELF object at path, returning
// a sorted codecache.Image with load base loadBase applied to every
// symbol's value (spec §4.E steps 1-5).
func ParseELFFile(path string, loadBase uintptr, index int) (*codecache.Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// debug/elf.Open already validates the magic, class, endianness,
	// version, and e_shstrndx != SHN_UNDEF fields (spec step 1) and
	// returns an error for any of them; nothing further to check here.
	img := codecache.NewImage(filepath.Base(path), index)

	addBlobs := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Size == 0 && isARMMappingSymbol(s.Name) {
				// spec §4.E step 4: skip $x / $d mapping symbols.
				continue
			}
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
				continue
			}
			img.Add(loadBase+uintptr(s.Value), uintptr(s.Size), []byte(s.Name), false)
		}
	}

	// Priority order (step 2): .symtab, then external debug info via
	// build-id/debuglink, then .dynsym.
	found := false
	if syms, err := f.Symbols(); err == nil && len(syms) > 0 {
		addBlobs(syms)
		found = true
	} else if dbg, err := openExternalDebug(f, path); err == nil && dbg != nil {
		defer dbg.Close()
		if syms, err := dbg.Symbols(); err == nil && len(syms) > 0 {
			addBlobs(syms)
			found = true
		}
	}
	if !found {
		if dsyms, err := f.DynamicSymbols(); err == nil {
			addBlobs(dsyms)
		}
	}

	synthesizePLT(f, img, loadBase)
	applyGOTRelro(f, img)

	img.Sort()
	return img, nil
}

// isARMMappingSymbol reports whether name is one of AArch64/ARM's
// zero-size mapping symbols ($x, $d, possibly suffixed with .N).
func isARMMappingSymbol(name string) bool {
	return strings.HasPrefix(name, "$x") || strings.HasPrefix(name, "$d") || strings.HasPrefix(name, "$a") || strings.HasPrefix(name, "$t")
}

// openExternalDebug resolves the build-id or .gnu_debuglink pointer in
// f to an external debug-info file, per spec §4.E step 2.
func openExternalDebug(f *elf.File, origPath string) (*elf.File, error) {
	if id := buildID(f); id != "" && len(id) > 2 {
		candidate := filepath.Join("/usr/lib/debug/.build-id", id[:2], id[2:]+".debug")
		if ef, err := elf.Open(candidate); err == nil {
			return ef, nil
		}
	}
	if link := debugLink(f); link != "" {
		dir := filepath.Dir(origPath)
		candidates := []string{
			filepath.Join(dir, link),
			filepath.Join(dir, ".debug", link),
			filepath.Join("/usr/lib/debug", dir, link),
		}
		for _, c := range candidates {
			if ef, err := elf.Open(c); err == nil {
				return ef, nil
			}
		}
	}
	return nil, nil
}

// buildID extracts the hex-encoded build-id note from .note.gnu.build-id.
func buildID(f *elf.File) string {
	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil || len(data) < 16 {
		return ""
	}
	// ELF note layout: namesz(4) descsz(4) type(4) name desc, 4-byte aligned.
	namesz := leUint32(data[0:4])
	descsz := leUint32(data[4:8])
	nameEnd := 12 + align4(namesz)
	descEnd := nameEnd + descsz
	if int(descEnd) > len(data) {
		return ""
	}
	desc := data[nameEnd:descEnd]
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(desc)*2)
	for _, b := range desc {
		out = append(out, hex[b>>4], hex[b&0xf])
	}
	return string(out)
}

// debugLink returns the filename recorded in .gnu_debuglink, if any.
func debugLink(f *elf.File) string {
	sec := f.Section(".gnu_debuglink")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil {
		return ""
	}
	nul := indexByte(data, 0)
	if nul < 0 {
		return string(data)
	}
	return string(data[:nul])
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}

// synthesizePLT walks .rela.plt (or .rel.plt) and emits one pseudo
// blob per stub in the matching .plt section, named per pltBlobName,
// spec §4.E step 3 / §8 scenario 4.
func synthesizePLT(f *elf.File, img *codecache.Image, loadBase uintptr) {
	plt := f.Section(".plt")
	if plt == nil {
		return
	}
	stride := pltStrideForMachine(f.Machine)

	dynsyms, err := f.DynamicSymbols()
	if err != nil {
		return
	}

	relaPLT := f.Section(".rela.plt")
	if relaPLT == nil {
		relaPLT = f.Section(".rel.plt")
	}
	if relaPLT == nil {
		return
	}
	data, err := relaPLT.Data()
	if err != nil {
		return
	}

	is64 := f.Class == elf.ELFCLASS64
	entrySize := 24 // Elf64_Rela{r_offset,r_info,r_addend} uint64 x3
	if !is64 {
		entrySize = 8 // Elf32_Rel{r_offset,r_info} uint32 x2
	}
	// PLT entry 0 is the resolver stub; real stubs start at index 1,
	// one per relocation, in relocation order.
	pltBase := loadBase + uintptr(plt.Addr)
	for i := 0; i*entrySize+entrySize <= len(data); i++ {
		rec := data[i*entrySize : i*entrySize+entrySize]
		var symIdx uint32
		if is64 {
			info := leUint64(rec[8:16])
			symIdx = uint32(info >> 32)
		} else {
			info := leUint32(rec[4:8])
			symIdx = info >> 8
		}
		if int(symIdx) >= len(dynsyms) {
			continue
		}
		name := dynsyms[symIdx].Name
		if name == "" {
			continue
		}
		stubAddr := pltBase + uintptr(i+1)*uintptr(stride)
		verifyPLTStub(f, stubAddr, loadBase)
		img.Add(stubAddr, uintptr(stride), []byte(pltBlobName(name)), false)
	}
}

// pltStrideForMachine maps an ELF e_machine value to its PLT stub
// size, the debug/elf-typed counterpart to pltStride (which takes a
// GOARCH-style string for testability without an elf.File).
func pltStrideForMachine(m elf.Machine) uint64 {
	switch m {
	case elf.EM_386, elf.EM_X86_64:
		return pltStride("amd64")
	case elf.EM_ARM, elf.EM_AARCH64:
		return pltStride("arm64")
	case elf.EM_PPC64:
		return pltStride("ppc64")
	default:
		return pltStride("")
	}
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[0:4])) | uint64(leUint32(b[4:8]))<<32
}

// verifyPLTStub decodes the first instruction of the stub at addr to
// confirm it is an indirect jump through the GOT, guarding against a
// misaligned .rela.plt stride assumption (spec: "cross-checked by
// decoding the PLT stub's first instruction"). On amd64 this is
// typically `jmp *offset(%rip)` (opcode 0xFF /4). synthesizePLT
// ignores the result: the pseudo-symbol is emitted whether or not the
// stub decodes as a jump.
func verifyPLTStub(f *elf.File, addr uintptr, loadBase uintptr) bool {
	if f.Machine != elf.EM_X86_64 {
		return true
	}
	plt := f.Section(".plt")
	if plt == nil {
		return false
	}
	off := int64(addr-loadBase) - int64(plt.Addr)
	if off < 0 || uint64(off) >= plt.Size {
		return false
	}
	data, err := plt.Data()
	if err != nil || int(off)+16 > len(data) {
		return false
	}
	inst, err := x86asm.Decode(data[off:off+16], 64)
	if err != nil {
		return false
	}
	return inst.Op == x86asm.JMP
}

// applyGOTRelro populates the image's GOT range from the .got.plt
// section header, or from .got when there is no .got.plt, and in that
// case detects the RELRO case where .got.plt has been merged into
// .got by scanning for R_GLOB_DAT relocations (spec §4.E step 5).
// PT_DYNAMIC is not read.
func applyGOTRelro(f *elf.File, img *codecache.Image) {
	got := f.Section(".got")
	gotPlt := f.Section(".got.plt")
	switch {
	case gotPlt != nil:
		img.GotStart = uintptr(gotPlt.Addr)
		img.GotEnd = uintptr(gotPlt.Addr + gotPlt.Size)
	case got != nil:
		img.GotStart = uintptr(got.Addr)
		img.GotEnd = uintptr(got.Addr + got.Size)
		img.GotPatchable = hasGlobDatRelocations(f)
	}
}

// hasGlobDatRelocations reports whether .rela.dyn contains any
// R_X86_64_GLOB_DAT relocation, the signal that RELRO folded .got.plt
// into .got. Only 64-bit x86_64 objects are recognized; every other
// machine reports false.
func hasGlobDatRelocations(f *elf.File) bool {
	sec := f.Section(".rela.dyn")
	if sec == nil {
		return false
	}
	data, err := sec.Data()
	if err != nil || f.Class != elf.ELFCLASS64 {
		return false
	}
	for i := 0; i*24+24 <= len(data); i++ {
		rec := data[i*24 : i*24+24]
		info := leUint64(rec[8:16])
		relType := uint32(info)
		if f.Machine == elf.EM_X86_64 && relType == uint32(elf.R_X86_64_GLOB_DAT) {
			return true
		}
	}
	return false
}
