package trace

import (
	"strconv"
	"strings"
)

// Direction is the CUPTI copy kind of a transfer.
type Direction uint8

// Copy kinds as recorded by CUPTI. Values match the copyKind column.
const (
	DirUnknown Direction = 0
	DirHtoD    Direction = 1
	DirDtoH    Direction = 2
	DirHtoH    Direction = 3
	DirDtoD    Direction = 4
	DirPeer    Direction = 8
)

var directionNames = map[Direction]string{
	DirUnknown: "Unknown",
	DirHtoD:    "HtoD",
	DirDtoH:    "DtoH",
	DirHtoH:    "HtoH",
	DirDtoD:    "DtoD",
	DirPeer:    "Peer",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return strconv.Itoa(int(d))
}

// MemoryKind is the CUPTI memory class of a transfer endpoint.
type MemoryKind uint8

// Memory kinds. Values match the srcKind/dstKind columns.
const (
	MemUnknown  MemoryKind = 0
	MemPageable MemoryKind = 1
	MemDevice   MemoryKind = 2
	MemArray    MemoryKind = 3
	MemUnified  MemoryKind = 4
	MemManaged  MemoryKind = 5
)

var memoryNames = map[MemoryKind]string{
	MemUnknown:  "Unknown",
	MemPageable: "Pageable",
	MemDevice:   "Device",
	MemArray:    "Array",
	MemUnified:  "Unified",
	MemManaged:  "Managed",
}

func (m MemoryKind) String() string {
	if name, ok := memoryNames[m]; ok {
		return name
	}
	return strconv.Itoa(int(m))
}

// ShortKernelName reduces a demangled kernel name to its last one or two
// qualified segments, dropping template arguments and the parameter list.
//
//	void at::native::vectorized_elementwise_kernel<4, ...>(int, ...) -> native::vectorized_elementwise_kernel
func ShortKernelName(demangled string) string {
	if demangled == "" {
		return "unknown"
	}
	name := demangled
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	// Return types ("void ") precede the qualified name.
	if i := strings.LastIndexByte(name, ' '); i >= 0 {
		name = name[i+1:]
	}
	parts := strings.Split(name, "::")
	if len(parts) > 1 {
		return strings.Join(parts[len(parts)-2:], "::")
	}
	return parts[0]
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return strconv.FormatFloat(float64(b)/(1<<30), 'f', 2, 64) + " GiB"
	case b >= 1<<20:
		return strconv.FormatFloat(float64(b)/(1<<20), 'f', 1, 64) + " MiB"
	case b >= 1<<10:
		return strconv.FormatFloat(float64(b)/(1<<10), 'f', 1, 64) + " KiB"
	default:
		return strconv.FormatInt(b, 10) + " B"
	}
}
