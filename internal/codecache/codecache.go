// Package codecache implements the per-loaded-image code blob index:
// sorted address ranges with O(log n) address-to-symbol lookup (spec
// §3, §4.D). It is ported directly from the original source's
// CodeCache/CodeBlob (code_cache.rs), generalized to Go's sort/search
// standard library instead of hand-rolled comparisons.
package codecache

import "sort"

// Blob is an address interval belonging to a code image.
type Blob struct {
	Start uintptr
	End   uintptr
	Name  []byte
	Mark  bool
}

// controlCharsToQuestionMark replaces byte values < 0x20 with '?', so
// a blob name never contains raw control characters (spec §8
// invariant).
func controlCharsToQuestionMark(name []byte) []byte {
	out := make([]byte, len(name))
	for i, b := range name {
		if b < 0x20 {
			out[i] = '?'
		} else {
			out[i] = b
		}
	}
	return out
}

// Image is a loaded executable image ("CodeCache" in spec §3).
type Image struct {
	Name          string
	Index         int
	MinAddress    uintptr
	MaxAddress    uintptr
	TextBase      uintptr
	GotStart      uintptr
	GotEnd        uintptr
	GotPatchable  bool
	DebugSymbols  bool
	blobs         []Blob
	sorted        bool
	noMinAddrSeen bool
	noMaxAddrSeen bool
}

// NewImage returns an Image with unset bounds: the first Add with
// updateBounds true (or Sort, if any blobs were added) establishes
// real MinAddress/MaxAddress values.
func NewImage(name string, index int) *Image {
	return &Image{
		Name:          name,
		Index:         index,
		MinAddress:    ^uintptr(0), // NO_MIN_ADDRESS: maximal, shrinks on update
		MaxAddress:    0,           // NO_MAX_ADDRESS: minimal, grows on update
		noMinAddrSeen: true,
		noMaxAddrSeen: true,
	}
}

// Add appends a blob [start, start+length) with the given name. If
// updateBounds is true the image's [MinAddress, MaxAddress) are
// extended to cover it immediately (used for runtime-generated stubs
// discovered after the initial parse, spec §4.I). Add after Sort is a
// usage bug (per spec §4.D); callers append-only before sorting,
// except the runtime-stub pseudo-image which re-sorts on demand.
func (img *Image) Add(start uintptr, length uintptr, name []byte, updateBounds bool) {
	clean := controlCharsToQuestionMark(name)
	end := start + length
	img.blobs = append(img.blobs, Blob{Start: start, End: end, Name: clean})
	img.sorted = false
	if updateBounds {
		img.updateBounds(start, end)
	}
}

func (img *Image) updateBounds(start, end uintptr) {
	if start < img.MinAddress {
		img.MinAddress = start
		img.noMinAddrSeen = false
	}
	if end > img.MaxAddress {
		img.MaxAddress = end
		img.noMaxAddrSeen = false
	}
}

// Sort orders blobs by (Start, End) ascending and finalizes bounds
// that were never explicitly updated (spec §3 CodeImage invariant).
func (img *Image) Sort() {
	if len(img.blobs) == 0 {
		img.sorted = true
		return
	}
	sort.Slice(img.blobs, func(i, j int) bool {
		a, b := img.blobs[i], img.blobs[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	if img.noMinAddrSeen {
		img.MinAddress = img.blobs[0].Start
	}
	if img.noMaxAddrSeen {
		img.MaxAddress = img.blobs[len(img.blobs)-1].End
	}
	img.sorted = true
}

// Blobs returns the image's blobs in their current order.
func (img *Image) Blobs() []Blob { return img.blobs }

// Sorted reports whether Sort has been called since the last Add.
func (img *Image) Sorted() bool { return img.sorted }

// Contains is the fast bounds check using [MinAddress, MaxAddress).
func (img *Image) Contains(addr uintptr) bool {
	return addr >= img.MinAddress && addr < img.MaxAddress
}

// BinarySearch returns the blob with Start <= addr < End, with a
// fallback that also accepts addr == End for the immediately
// preceding blob — necessary because return addresses point past the
// call instruction (spec §4.D, §8 scenario 3). A preceding blob of
// zero length (a symbol with no recorded size) also matches any
// address after its start up to the next blob.
func (img *Image) BinarySearch(addr uintptr) *Blob {
	blobs := img.blobs
	// sort.Search finds the first index whose blob does NOT compare
	// "less" than addr, i.e. the first blob with End > addr.
	idx := sort.Search(len(blobs), func(i int) bool {
		return blobs[i].End > addr
	})
	if idx < len(blobs) && blobs[idx].Start <= addr {
		return &blobs[idx]
	}
	if idx > 0 {
		prev := &blobs[idx-1]
		if prev.Start == prev.End || prev.End == addr {
			return prev
		}
	}
	return nil
}

// FindSymbol scans linearly for a blob with an exact name match. Used
// at startup only, never on the sampling fast path.
func (img *Image) FindSymbol(name []byte) *Blob {
	for i := range img.blobs {
		if string(img.blobs[i].Name) == string(name) {
			return &img.blobs[i]
		}
	}
	return nil
}

// FindSymbolPrefix scans linearly for the first blob whose name has
// the given prefix. Used at startup only.
func (img *Image) FindSymbolPrefix(prefix []byte) *Blob {
	for i := range img.blobs {
		if len(img.blobs[i].Name) >= len(prefix) && string(img.blobs[i].Name[:len(prefix)]) == string(prefix) {
			return &img.blobs[i]
		}
	}
	return nil
}

// Registry is an ordered, append-only list of Images (spec §3
// ImageRegistry). It is built once during a parse pass and never
// mutated during sampling.
type Registry struct {
	images []*Image
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Add appends an image to the registry.
func (r *Registry) Add(img *Image) { r.images = append(r.images, img) }

// Images returns the registry's images in insertion order.
func (r *Registry) Images() []*Image { return r.images }

// Find returns the first image containing addr, or nil. Lookup
// prefers the first containing image when images overlap (spec §3).
func (r *Registry) Find(addr uintptr) *Image {
	for _, img := range r.images {
		if img.Contains(addr) {
			return img
		}
	}
	return nil
}

// FindBlob resolves addr to its owning image's blob, or nil if no
// image contains the address or the address falls in a gap within an
// image's bounds.
func (r *Registry) FindBlob(addr uintptr) *Blob {
	img := r.Find(addr)
	if img == nil {
		return nil
	}
	return img.BinarySearch(addr)
}

// FindSymbol scans every image by exact name match, returning the
// blob's start address. Used at startup to resolve exported runtime
// symbols like gHotSpotVMStructs; never on the sampling fast path.
func (r *Registry) FindSymbol(name string) (uintptr, bool) {
	nameBytes := []byte(name)
	for _, img := range r.images {
		if blob := img.FindSymbol(nameBytes); blob != nil {
			return blob.Start, true
		}
	}
	return 0, false
}
