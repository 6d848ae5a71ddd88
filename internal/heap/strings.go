package heap

import (
	"unsafe"

	"loxvm/internal/value"
)

// CopyString returns the interned string with content chars, allocating it
// on first use.
func (h *Heap) CopyString(chars string) *value.String {
	hash := value.HashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	// Detach from any larger backing buffer the caller holds.
	chars = string([]byte(chars))
	s := &value.String{Chars: chars, Hash: hash}
	h.allocate(s, int(unsafe.Sizeof(*s))+len(chars))
	h.strings.Set(s, value.Nil())
	return s
}

// Concat interns a + b.
func (h *Heap) Concat(a, b *value.String) *value.String {
	return h.CopyString(a.Chars + b.Chars)
}

// InternedCount is the number of live entries in the intern table.
func (h *Heap) InternedCount() int {
	return h.strings.Len()
}
