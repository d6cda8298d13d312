// Package vmstruct resolves runtime-internal field offsets from the
// target JVM's gHotSpotVMStructs export (spec §4.F), the same
// self-describing table HotSpot publishes for external debuggers.
// Ported from the original source's vm_struct.rs.
package vmstruct

// Memory abstracts the reads needed to walk the VMStructs array: each
// entry is (typeName *char, fieldName *char, offset int32, address
// void*), repeated every Stride bytes. Production code backs this
// with direct process-memory reads; tests supply a synthetic image.
type Memory interface {
	ReadCString(addr uintptr) (string, bool)
	ReadInt32(addr uintptr) (int32, bool)
	ReadUintptr(addr uintptr) (uintptr, bool)
}

// SymbolLookup resolves exported symbol addresses in libjvm, the same
// lookup internal/codecache.Registry provides over a parsed image.
type SymbolLookup interface {
	FindSymbol(name string) (uintptr, bool)
}

// Offsets holds every field offset and absolute address this agent
// needs to walk HotSpot's internal structures without linking against
// its headers. A value of -1 means "not found"; a zero uintptr means
// "not resolved" for address fields.
type Offsets struct {
	KlassName                  int32
	SymbolLength                int32
	SymbolLengthAndRefcount     int32
	SymbolBody                  int32
	NMethodName                 int32
	NMethodMethod                int32
	NMethodEntry                 int32
	NMethodState                 int32
	NMethodLevel                 int32
	MethodConstMethod            int32
	MethodCode                   int32
	ConstMethodConstants         int32
	ConstMethodIdnum             int32
	PoolHolder                   int32
	ClassLoaderData               int32
	Methods                       int32
	JMethodIDs                    int32
	ClassLoaderDataNext           int32
	KlassOffsetAddr               uintptr
	ThreadOSThread                 int32
	ThreadAnchor                    int32
	ThreadState                     int32
	OSThreadID                     int32
	AnchorSP                        int32
	AnchorPC                        int32
	FrameSize                       int32
	FrameComplete                   int32
	CodeHeapAddr                    uintptr
	CodeHeapLowAddr                  uintptr
	CodeHeapHighAddr                 uintptr
	CodeHeapMemory                    int32
	CodeHeapSegmap                    int32
	CodeHeapSegmentShift              int32
	VSLowBound                        int32
	VSHighBound                       int32
	VSLow                             int32
	VSHigh                            int32
	ArrayData                         int32
	FlagName                          int32
	FlagAddr                          int32
	FlagsAddr                         uintptr
	FlagCount                         int32

	HasPerm bool
}

// NewOffsets returns an Offsets with every integer field defaulting to
// -1 ("not found"), matching VMStruct::new in the original source.
func NewOffsets() *Offsets {
	o := &Offsets{}
	for _, p := range o.intFields() {
		*p = -1
	}
	return o
}

func (o *Offsets) intFields() []*int32 {
	return []*int32{
		&o.KlassName, &o.SymbolLength, &o.SymbolLengthAndRefcount, &o.SymbolBody,
		&o.NMethodName, &o.NMethodMethod, &o.NMethodEntry, &o.NMethodState, &o.NMethodLevel,
		&o.MethodConstMethod, &o.MethodCode, &o.ConstMethodConstants, &o.ConstMethodIdnum,
		&o.PoolHolder, &o.ClassLoaderData, &o.Methods, &o.JMethodIDs, &o.ClassLoaderDataNext,
		&o.ThreadOSThread, &o.ThreadAnchor, &o.ThreadState, &o.OSThreadID,
		&o.AnchorSP, &o.AnchorPC, &o.FrameSize, &o.FrameComplete,
		&o.CodeHeapMemory, &o.CodeHeapSegmap, &o.CodeHeapSegmentShift,
		&o.VSLowBound, &o.VSHighBound, &o.VSLow, &o.VSHigh,
		&o.ArrayData, &o.FlagName, &o.FlagAddr, &o.FlagCount,
	}
}

// requiredSymbols are the gHotSpotVMStructEntry* exports that must all
// resolve before the table can be walked at all.
var requiredSymbols = []string{
	"gHotSpotVMStructs",
	"gHotSpotVMStructEntryArrayStride",
	"gHotSpotVMStructEntryTypeNameOffset",
	"gHotSpotVMStructEntryFieldNameOffset",
	"gHotSpotVMStructEntryOffsetOffset",
	"gHotSpotVMStructEntryAddressOffset",
}

// Resolve walks the target's gHotSpotVMStructs array and fills in an
// Offsets. It returns an unresolved (all -1) Offsets, no error, if the
// required symbols aren't exported — an older or stripped JVM simply
// runs without VM-struct-dependent features, matching the original's
// "return early" behavior rather than failing the whole agent.
func Resolve(mem Memory, sym SymbolLookup) (*Offsets, error) {
	o := NewOffsets()

	addrs := make(map[string]uintptr, len(requiredSymbols))
	for _, name := range requiredSymbols {
		addr, ok := sym.FindSymbol(name)
		if !ok {
			return o, nil
		}
		addrs[name] = addr
	}

	entryPtr, ok := mem.ReadUintptr(addrs["gHotSpotVMStructs"])
	if !ok {
		return o, nil
	}
	stride, ok := mem.ReadUintptr(addrs["gHotSpotVMStructEntryArrayStride"])
	if !ok {
		return o, nil
	}
	typeOff, _ := mem.ReadUintptr(addrs["gHotSpotVMStructEntryTypeNameOffset"])
	fieldOff, _ := mem.ReadUintptr(addrs["gHotSpotVMStructEntryFieldNameOffset"])
	offsetOff, _ := mem.ReadUintptr(addrs["gHotSpotVMStructEntryOffsetOffset"])
	addrOff, _ := mem.ReadUintptr(addrs["gHotSpotVMStructEntryAddressOffset"])

	entry := entryPtr
	for {
		typeAddr, ok := mem.ReadUintptr(entry + typeOff)
		if !ok || typeAddr == 0 {
			break
		}
		fieldAddr, ok := mem.ReadUintptr(entry + fieldOff)
		if !ok || fieldAddr == 0 {
			break
		}
		typeName, _ := mem.ReadCString(typeAddr)
		fieldName, _ := mem.ReadCString(fieldAddr)

		assignOffset := func(dst *int32) {
			v, ok := mem.ReadInt32(entry + offsetOff)
			if ok {
				*dst = v
			}
		}
		assignAddr := func(dst *uintptr) {
			v, ok := mem.ReadUintptr(entry + addrOff)
			if ok {
				*dst, _ = mem.ReadUintptr(v)
			}
		}

		switch typeName {
		case "Klass":
			if fieldName == "_name" {
				assignOffset(&o.KlassName)
			}
		case "Symbol":
			switch fieldName {
			case "_length":
				assignOffset(&o.SymbolLength)
			case "_length_and_refcount":
				assignOffset(&o.SymbolLengthAndRefcount)
			case "_body":
				assignOffset(&o.SymbolBody)
			}
		case "CompiledMethod", "nmethod":
			switch fieldName {
			case "_method":
				assignOffset(&o.NMethodMethod)
			case "_verified_entry_point":
				assignOffset(&o.NMethodEntry)
			case "_state":
				assignOffset(&o.NMethodState)
			case "_comp_level":
				assignOffset(&o.NMethodLevel)
			}
		case "Method":
			switch fieldName {
			case "_constMethod":
				assignOffset(&o.MethodConstMethod)
			case "_code":
				assignOffset(&o.MethodCode)
			}
		case "ConstMethod":
			switch fieldName {
			case "_constants":
				assignOffset(&o.ConstMethodConstants)
			case "_method_idnum":
				assignOffset(&o.ConstMethodIdnum)
			}
		case "ConstantPool":
			if fieldName == "_pool_holder" {
				assignOffset(&o.PoolHolder)
			}
		case "InstanceKlass":
			switch fieldName {
			case "_class_loader_data":
				assignOffset(&o.ClassLoaderData)
			case "_methods":
				assignOffset(&o.Methods)
			case "_methods_jmethod_ids":
				assignOffset(&o.JMethodIDs)
			}
		case "ClassLoaderData":
			if fieldName == "_next" {
				assignOffset(&o.ClassLoaderDataNext)
			}
		case "java_lang_Class":
			if fieldName == "_klass_offset" {
				v, ok := mem.ReadUintptr(entry + addrOff)
				if ok {
					o.KlassOffsetAddr = v
				}
			}
		case "JavaThread":
			switch fieldName {
			case "_osthread":
				assignOffset(&o.ThreadOSThread)
			case "_anchor":
				assignOffset(&o.ThreadAnchor)
			case "_thread_state":
				assignOffset(&o.ThreadState)
			}
		case "OSThread":
			if fieldName == "_thread_id" {
				assignOffset(&o.OSThreadID)
			}
		case "JavaFrameAnchor":
			switch fieldName {
			case "_last_Java_sp":
				assignOffset(&o.AnchorSP)
			case "_last_Java_pc":
				assignOffset(&o.AnchorPC)
			}
		case "CodeBlob":
			switch fieldName {
			case "_frame_size":
				assignOffset(&o.FrameSize)
			case "_frame_complete_offset":
				assignOffset(&o.FrameComplete)
			case "_name":
				assignOffset(&o.NMethodName)
			}
		case "CodeCache":
			switch fieldName {
			case "_heap", "_heaps":
				assignAddr(&o.CodeHeapAddr)
			case "_low_bound":
				assignAddr(&o.CodeHeapLowAddr)
			case "_high_bound":
				assignAddr(&o.CodeHeapHighAddr)
			}
		case "CodeHeap":
			switch fieldName {
			case "_memory":
				assignOffset(&o.CodeHeapMemory)
			case "_segmap":
				assignOffset(&o.CodeHeapSegmap)
			case "_log2_segment_size":
				assignOffset(&o.CodeHeapSegmentShift)
			}
		case "VirtualSpace":
			switch fieldName {
			case "_low_boundary":
				assignOffset(&o.VSLowBound)
			case "_high_boundary":
				assignOffset(&o.VSHighBound)
			case "_low":
				assignOffset(&o.VSLow)
			case "_high":
				assignOffset(&o.VSHigh)
			}
		case "GrowableArray<int>":
			if fieldName == "_data" {
				assignOffset(&o.ArrayData)
			}
		case "JVMFlag", "Flag":
			switch fieldName {
			case "_name", "name":
				assignOffset(&o.FlagName)
			case "_addr", "addr":
				assignOffset(&o.FlagAddr)
			case "flags":
				assignAddr(&o.FlagsAddr)
			case "numFlags":
				v, ok := mem.ReadUintptr(entry + addrOff)
				if ok {
					if inner, ok := mem.ReadUintptr(v); ok {
						if n, ok := mem.ReadInt32(inner); ok {
							o.FlagCount = n
						}
					}
				}
			}
		case "PermGen":
			o.HasPerm = true
		}

		entry += stride
	}

	return o, nil
}

// Ready reports whether offsets resolved enough to support decoding
// Java class names from a Klass*, mirroring has_class_names in the
// original source.
func (o *Offsets) Ready() bool {
	return o.KlassName >= 0 &&
		(o.SymbolLength >= 0 || o.SymbolLengthAndRefcount >= 0) &&
		o.SymbolBody >= 0
}

// HasMethodStructs reports whether offsets resolved enough to walk
// Method/ConstMethod/nmethod structures directly, bypassing JVMTI.
func (o *Offsets) HasMethodStructs() bool {
	return o.JMethodIDs >= 0 && o.NMethodMethod >= 0 &&
		o.NMethodEntry >= 0 && o.NMethodState >= 0
}

// HasNativeThreadID reports whether the JavaThread->OSThread->tid
// chain is resolvable, letting the profiler map a jthread to its OS
// tid without a JVMTI round trip.
func (o *Offsets) HasNativeThreadID() bool {
	return o.ThreadOSThread >= 0 && o.OSThreadID >= 0
}

// CodeHeapContains reports whether pc falls within any known code
// heap's [low, high) bound. It implements walker.CodeHeapChecker.
type CodeHeapContains struct {
	Bounds []CodeHeapBounds
}

// CodeHeapBounds is one HotSpot CodeHeap's address range.
type CodeHeapBounds struct {
	Low, High uintptr
}

// CodeHeapContains implements walker.CodeHeapChecker.
func (c CodeHeapContains) CodeHeapContains(pc uintptr) bool {
	for _, b := range c.Bounds {
		if pc >= b.Low && pc < b.High {
			return true
		}
	}
	return false
}
