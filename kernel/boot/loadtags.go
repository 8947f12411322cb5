package boot

import (
	"encoding/binary"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// TagKind is one of the LOAD_TAG_* constants spec.md §6 lists for the
// bootloader hand-off chain.
type TagKind uint32

const (
	TagClose TagKind = iota
	TagArguments
	TagEnvironment
	TagStackDescriptor
	_ // LOAD_TAG_FILE_DESCRIPTORS, never assigned a tag number
	TagLoadModules
	TagFramebuffer
	TagRSDP
	TagFDT
)

// tagHeaderSize is sizeof(load_tag_generic): tag, flags (both uint32) plus
// offset_to_next (uint64), 16 bytes total.
const tagHeaderSize = 16

// Tag is one parsed entry of the hand-off chain: its kind, flags, and the
// raw bytes following the generic header up to offset_to_next.
type Tag struct {
	Kind  TagKind
	Flags uint32
	Body  []byte
}

// ParseTags walks a load_tag_generic chain starting at data[0] until it
// hits TagClose or runs out of bytes. A zero offset_to_next on a non-close
// tag is malformed (it would loop forever) and is reported as a format error.
func ParseTags(data []byte) ([]Tag, error) {
	var tags []Tag
	off := 0
	for off+tagHeaderSize <= len(data) {
		kind := TagKind(binary.LittleEndian.Uint32(data[off : off+4]))
		flags := binary.LittleEndian.Uint32(data[off+4 : off+8])
		next := binary.LittleEndian.Uint64(data[off+8 : off+16])

		if kind == TagClose {
			tags = append(tags, Tag{Kind: TagClose})
			return tags, nil
		}
		if next == 0 || int(next) < tagHeaderSize {
			return nil, kerr.Wrap(kerr.ErrFormat, "load tag at offset %d has bad offset_to_next %d", off, next)
		}
		end := off + int(next)
		if end > len(data) {
			return nil, kerr.Wrap(kerr.ErrFormat, "load tag at offset %d overruns hand-off buffer", off)
		}
		tags = append(tags, Tag{Kind: kind, Flags: flags, Body: data[off+tagHeaderSize : end]})
		off = end
	}
	return nil, kerr.Wrap(kerr.ErrFormat, "load tag chain missing closing tag")
}

// StackDescriptor is the decoded body of a TagStackDescriptor tag.
type StackDescriptor struct {
	Top, Size, GuardSize uint64
}

// DecodeStackDescriptor reads a load_tag_stack_descriptor body (three
// uint64s following the header: stack_top, stack_size, guard_size, plus a
// reserved fourth word).
func DecodeStackDescriptor(body []byte) (StackDescriptor, error) {
	if len(body) < 32 {
		return StackDescriptor{}, kerr.ErrFormat
	}
	return StackDescriptor{
		Top:       binary.LittleEndian.Uint64(body[0:8]),
		Size:      binary.LittleEndian.Uint64(body[8:16]),
		GuardSize: binary.LittleEndian.Uint64(body[16:24]),
	}, nil
}

// Module is one entry of a TagLoadModules tag's module_descriptor array,
// with Path/Cmdline already sliced out of the tag's trailing string data.
type Module struct {
	MemoryObjectID uint64
	Size           uint64
	Path           string
	Cmdline        string
}

// DecodeLoadModules reads a load_tag_load_modules_descriptor body: a
// modules_count header word followed by that many 32-byte
// module_descriptor entries (object id, size, path offset, cmdline
// offset), with the path/cmdline strings living in the remainder of body
// at those offsets, null-terminated.
func DecodeLoadModules(body []byte) ([]Module, error) {
	if len(body) < 8 {
		return nil, kerr.ErrFormat
	}
	count := binary.LittleEndian.Uint64(body[0:8])
	const entrySize = 32
	need := 8 + int(count)*entrySize
	if need > len(body) {
		return nil, kerr.ErrFormat
	}
	mods := make([]Module, 0, count)
	for i := uint64(0); i < count; i++ {
		off := 8 + int(i)*entrySize
		e := body[off : off+entrySize]
		m := Module{
			MemoryObjectID: binary.LittleEndian.Uint64(e[0:8]),
			Size:           binary.LittleEndian.Uint64(e[8:16]),
		}
		pathOff := binary.LittleEndian.Uint64(e[16:24])
		cmdlineOff := binary.LittleEndian.Uint64(e[24:32])
		m.Path = cString(body, pathOff)
		m.Cmdline = cString(body, cmdlineOff)
		mods = append(mods, m)
	}
	return mods, nil
}

func cString(body []byte, offset uint64) string {
	if offset >= uint64(len(body)) {
		return ""
	}
	rest := body[offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i])
		}
	}
	return string(rest)
}

// Framebuffer is the decoded body of a TagFramebuffer tag.
type Framebuffer struct {
	Addr          uint64
	Width, Height uint32
	Pitch         uint32
	BPP           uint32
}

func DecodeFramebuffer(body []byte) (Framebuffer, error) {
	if len(body) < 20 {
		return Framebuffer{}, kerr.ErrFormat
	}
	return Framebuffer{
		Addr:   binary.LittleEndian.Uint64(body[0:8]),
		Width:  binary.LittleEndian.Uint32(body[8:12]),
		Height: binary.LittleEndian.Uint32(body[12:16]),
		Pitch:  binary.LittleEndian.Uint32(body[16:20]),
	}, nil
}

// DecodeRSDP reads a load_tag_rsdp body: a single physical address.
func DecodeRSDP(body []byte) (uint64, error) {
	if len(body) < 8 {
		return 0, kerr.ErrFormat
	}
	return binary.LittleEndian.Uint64(body[0:8]), nil
}

// FDT is the decoded body of a TagFDT tag: the memory object carrying the
// flattened device tree blob, plus the byte range inside it.
type FDT struct {
	MemoryObjectID uint64
	StartOffset    uint32
	Size           uint32
}

func DecodeFDT(body []byte) (FDT, error) {
	if len(body) < 16 {
		return FDT{}, kerr.ErrFormat
	}
	return FDT{
		MemoryObjectID: binary.LittleEndian.Uint64(body[0:8]),
		StartOffset:    binary.LittleEndian.Uint32(body[8:12]),
		Size:           binary.LittleEndian.Uint32(body[12:16]),
	}, nil
}
