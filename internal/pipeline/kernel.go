package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mflow/mflow/pkg/core"
	"github.com/mflow/mflow/pkg/proc"
	"github.com/mflow/mflow/pkg/proxy"
)

// MPEG-TS packets per UDP datagram
const defaultChunk = 7 * 188

// NewKernel - processor by name, argument after colon: `chunker:1316`.
// Also the factory for remote proxy sessions.
func NewKernel(name string) (*core.Processor, error) {
	name, arg, _ := strings.Cut(name, ":")

	switch name {
	case "", "identity":
		return proc.NewIdentity(), nil

	case "chunker":
		size := defaultChunk
		if arg != "" {
			var err error
			if size, err = strconv.Atoi(arg); err != nil || size <= 0 {
				return nil, fmt.Errorf("pipeline: wrong chunk size: %s", arg)
			}
		}
		return proc.NewChunker(size), nil

	case "drop":
		// data packets are dropped, symbols pass
		return proc.NewFunc(func(packet *core.Packet) *core.Packet {
			if packet.IsSymbolic() {
				return packet
			}
			return nil
		}), nil
	}

	return nil, fmt.Errorf("%w: %s", proxy.ErrUnknownKernel, name)
}
