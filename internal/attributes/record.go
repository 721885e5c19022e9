package attributes

import "github.com/mrzor/xfertrace/internal/trace"

// Record is the expression environment for one transfer.
type Record struct {
	Direction string `expr:"direction"`
	SrcMem    string `expr:"src_mem"`
	DstMem    string `expr:"dst_mem"`
	StreamID  int    `expr:"stream_id"`
	DeviceID  int    `expr:"device_id"`
	Bytes     int64  `expr:"bytes"`
	Duration  int64  `expr:"duration"`
	Label     string `expr:"label"`
	APIName   string `expr:"api_name"`
}

// NewRecord builds the environment for xfer. apiName is empty for transfers
// that were not correlated to an API call.
func NewRecord(xfer trace.Event, apiName string) Record {
	r := Record{
		StreamID: int(xfer.Stream()),
		DeviceID: int(xfer.Device()),
		Bytes:    xfer.Bytes(),
		Duration: xfer.Duration(),
		Label:    xfer.Label(),
		APIName:  apiName,
	}
	if d := xfer.Transfer(); d != nil {
		r.Direction = d.Direction.String()
		r.SrcMem = d.Src.String()
		r.DstMem = d.Dst.String()
	}
	return r
}
