package summary

import (
	"strconv"

	"github.com/mrzor/xfertrace/internal/attributes"
)

// Grouper maps a transfer record to its category key.
type Grouper interface {
	Group(r attributes.Record) (string, error)
}

// GrouperFunc adapts a function to Grouper.
type GrouperFunc func(r attributes.Record) string

func (f GrouperFunc) Group(r attributes.Record) (string, error) { return f(r), nil }

// Built-in grouping keys.
const (
	ByDirection = "direction"
	ByMemory    = "memory"
	ByStream    = "stream"
	ByDevice    = "device"
	ByAPI       = "api"
)

// Reserved keys.
const (
	// NoAPI is the api key of transfers without a correlated call.
	NoAPI = "(none)"
	// ErrorKey collects records whose key could not be computed.
	ErrorKey = "(error)"
)

var _ Grouper = (*attributes.KeyEvaluator)(nil)

// Built-in groupers.
var (
	GroupDirection Grouper = GrouperFunc(func(r attributes.Record) string { return r.Direction })
	GroupMemory    Grouper = GrouperFunc(func(r attributes.Record) string { return r.SrcMem + " → " + r.DstMem })
	GroupStream    Grouper = GrouperFunc(func(r attributes.Record) string { return strconv.Itoa(r.StreamID) })
	GroupDevice    Grouper = GrouperFunc(func(r attributes.Record) string { return strconv.Itoa(r.DeviceID) })
	GroupAPI       Grouper = GrouperFunc(func(r attributes.Record) string {
		if r.APIName == "" {
			return NoAPI
		}
		return r.APIName
	})
)

var builtin = map[string]Grouper{
	ByDirection: GroupDirection,
	ByMemory:    GroupMemory,
	ByStream:    GroupStream,
	ByDevice:    GroupDevice,
	ByAPI:       GroupAPI,
}

// ParseGrouper returns the built-in grouper called name, or compiles name as
// an expression over the transfer record.
func ParseGrouper(name string) (Grouper, error) {
	if g, ok := builtin[name]; ok {
		return g, nil
	}
	k, err := attributes.NewKeyEvaluator(name)
	if err != nil {
		return nil, err
	}
	return k, nil
}
