package slab

// Handle is the opaque 64-bit reference returned by Allocate. Its bit
// layout is fixed by spec §6 and is not endianness-sensitive — it is
// never serialized across machines, only decoded in-process.
//
//	bits 0-1   version   (currently 0b01)
//	bits 2-9   size class
//	bits 10-17 slot
//	bits 18-41 generation
//	bits 42-63 slab id
//
// The zero value is the distinguished "empty" handle.
type Handle uint64

const (
	handleVersion uint64 = 0b01

	verBits   = 2
	classBits = 8
	slotBits  = 8
	genBits   = 24
	slabBits  = 22

	verShift   = 0
	classShift = verShift + verBits
	slotShift  = classShift + classBits
	genShift   = slotShift + slotBits
	slabShift  = genShift + genBits

	verMask   = uint64(1)<<verBits - 1
	classMask = uint64(1)<<classBits - 1
	slotMask  = uint64(1)<<slotBits - 1
	genMask   = uint64(1)<<genBits - 1
	slabMask  = uint64(1)<<slabBits - 1
)

// MaxGeneration24 is the largest representable generation value; 0 is
// reserved to mean "empty handle" and is skipped on wrap (§3).
const MaxGeneration24 = uint32(genMask)

// MaxSlabID is the largest representable registry slab id.
const MaxSlabID = uint32(slabMask)

// encodeHandle packs the four logical fields into a Handle. Callers
// must already have validated ranges; this function does not.
func encodeHandle(slabID uint32, generation uint32, slot uint8, class uint8) Handle {
	v := handleVersion << verShift
	v |= (uint64(class) & classMask) << classShift
	v |= (uint64(slot) & slotMask) << slotShift
	v |= (uint64(generation) & genMask) << genShift
	v |= (uint64(slabID) & slabMask) << slabShift
	return Handle(v)
}

// IsEmpty reports whether h is the distinguished empty handle.
func (h Handle) IsEmpty() bool { return h == 0 }

type decodedHandle struct {
	slabID     uint32
	generation uint32
	slot       uint8
	class      uint8
	version    uint8
}

func (h Handle) decode() decodedHandle {
	v := uint64(h)
	return decodedHandle{
		version:    uint8((v >> verShift) & verMask),
		class:      uint8((v >> classShift) & classMask),
		slot:       uint8((v >> slotShift) & slotMask),
		generation: uint32((v >> genShift) & genMask),
		slabID:     uint32((v >> slabShift) & slabMask),
	}
}
