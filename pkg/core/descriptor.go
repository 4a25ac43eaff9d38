package core

import (
	"mime"
	"strings"
)

// SocketDescriptor - payload types a socket accepts or produces.
// Empty descriptor is void and matches anything.
type SocketDescriptor struct {
	Payloads []*BufferProperties `json:"payloads"`
}

func NewSocketDescriptor(mimeTypes ...string) *SocketDescriptor {
	d := &SocketDescriptor{}
	for _, mimeType := range mimeTypes {
		d.Payloads = append(d.Payloads, &BufferProperties{MimeType: mimeType})
	}
	return d
}

func (d *SocketDescriptor) IsVoid() bool {
	return d == nil || len(d.Payloads) == 0
}

func (d *SocketDescriptor) MimeTypes() []string {
	if d == nil {
		return nil
	}
	types := make([]string, len(d.Payloads))
	for i, payload := range d.Payloads {
		types[i] = payload.MimeType
	}
	return types
}

// Match - void on either side or at least one common mime type (params ignored)
func (d *SocketDescriptor) Match(remote *SocketDescriptor) bool {
	if d.IsVoid() || remote.IsVoid() {
		return true
	}
	for _, local := range d.Payloads {
		for _, other := range remote.Payloads {
			if baseMimeType(local.MimeType) == baseMimeType(other.MimeType) {
				return true
			}
		}
	}
	return false
}

func (d *SocketDescriptor) Clone() *SocketDescriptor {
	if d == nil {
		return nil
	}
	clone := &SocketDescriptor{Payloads: make([]*BufferProperties, len(d.Payloads))}
	for i, payload := range d.Payloads {
		clone.Payloads[i] = payload.Clone()
	}
	return clone
}

func (d *SocketDescriptor) String() string {
	if d.IsVoid() {
		return "void"
	}
	return strings.Join(d.MimeTypes(), ", ")
}

func baseMimeType(s string) string {
	if typ, _, err := mime.ParseMediaType(s); err == nil {
		return typ
	}
	return strings.ToLower(strings.TrimSpace(s))
}
