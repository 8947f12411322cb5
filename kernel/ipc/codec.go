package ipc

import (
	"encoding/binary"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// The Encode*/Decode* pairs below are the wire format for the message
// kinds pkg/runtime and pkg/blockreg actually exchange over ports; kernel
// -originated kinds (KernelInterrupt, TimerReply) have their codecs next
// to the subsystem that sends them (kernel/interrupt, kernel/timer) since
// only that subsystem ever builds one.

// EncodeRegisterProcess builds a Register_Process message.
func EncodeRegisterProcess(taskID, parentID uint64, groupName string) []byte {
	buf := make([]byte, 4+8+8+4+len(groupName))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(RegisterProcess))
	binary.LittleEndian.PutUint64(buf[4:12], taskID)
	binary.LittleEndian.PutUint64(buf[12:20], parentID)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(groupName)))
	copy(buf[24:], groupName)
	return buf
}

// DecodeRegisterProcess parses a Register_Process message.
func DecodeRegisterProcess(b []byte) (RegisterProcessPayload, error) {
	if len(b) < 24 {
		return RegisterProcessPayload{}, kerr.ErrFormat
	}
	n := int(binary.LittleEndian.Uint32(b[20:24]))
	if len(b) < 24+n {
		return RegisterProcessPayload{}, kerr.ErrFormat
	}
	return RegisterProcessPayload{
		Type:      Type(binary.LittleEndian.Uint32(b[0:4])),
		TaskID:    binary.LittleEndian.Uint64(b[4:12]),
		ParentID:  binary.LittleEndian.Uint64(b[12:20]),
		GroupName: string(b[24 : 24+n]),
	}, nil
}

// EncodeRegisterProcessReply builds a Register_Process_Reply message.
func EncodeRegisterProcessReply(result int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(RegisterProcessReply))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(result))
	return buf
}

// DecodeRegisterProcessReply parses a Register_Process_Reply message.
func DecodeRegisterProcessReply(b []byte) (RegisterProcessReplyPayload, error) {
	if len(b) < 8 {
		return RegisterProcessReplyPayload{}, kerr.ErrFormat
	}
	return RegisterProcessReplyPayload{
		Type:   Type(binary.LittleEndian.Uint32(b[0:4])),
		Result: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

// EncodeRequestFork builds a Request_Fork message.
func EncodeRequestFork(parentID, provisionID uint64) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(RequestFork))
	binary.LittleEndian.PutUint64(buf[4:12], parentID)
	binary.LittleEndian.PutUint64(buf[12:20], provisionID)
	return buf
}

// DecodeRequestFork parses a Request_Fork message.
func DecodeRequestFork(b []byte) (RequestForkPayload, error) {
	if len(b) < 20 {
		return RequestForkPayload{}, kerr.ErrFormat
	}
	return RequestForkPayload{
		Type:        Type(binary.LittleEndian.Uint32(b[0:4])),
		ParentID:    binary.LittleEndian.Uint64(b[4:12]),
		ProvisionID: binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

// EncodeRequestForkReply builds a Request_Fork_Reply message.
func EncodeRequestForkReply(childID uint64, result int32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(RequestForkReply))
	binary.LittleEndian.PutUint64(buf[4:12], childID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(result))
	return buf
}

// DecodeRequestForkReply parses a Request_Fork_Reply message.
func DecodeRequestForkReply(b []byte) (RequestForkReplyPayload, error) {
	if len(b) < 16 {
		return RequestForkReplyPayload{}, kerr.ErrFormat
	}
	return RequestForkReplyPayload{
		Type:    Type(binary.LittleEndian.Uint32(b[0:4])),
		ChildID: binary.LittleEndian.Uint64(b[4:12]),
		Result:  int32(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

// EncodeDiskRegister builds a Disk_Register message.
func EncodeDiskRegister(diskID, sizeBlocks uint64, blockSize uint32) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(DiskRegister))
	binary.LittleEndian.PutUint64(buf[4:12], diskID)
	binary.LittleEndian.PutUint64(buf[12:20], sizeBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], blockSize)
	return buf
}

// DecodeDiskRegister parses a Disk_Register message.
func DecodeDiskRegister(b []byte) (DiskRegisterPayload, error) {
	if len(b) < 24 {
		return DiskRegisterPayload{}, kerr.ErrFormat
	}
	return DiskRegisterPayload{
		Type:       Type(binary.LittleEndian.Uint32(b[0:4])),
		DiskID:     binary.LittleEndian.Uint64(b[4:12]),
		SizeBlocks: binary.LittleEndian.Uint64(b[12:20]),
		BlockSize:  binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// EncodeDiskRegisterReply builds a Disk_Register_Reply message.
func EncodeDiskRegisterReply(result int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(DiskRegisterReply))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(result))
	return buf
}

// DecodeDiskRegisterReply parses a Disk_Register_Reply message.
func DecodeDiskRegisterReply(b []byte) (DiskRegisterReplyPayload, error) {
	if len(b) < 8 {
		return DiskRegisterReplyPayload{}, kerr.ErrFormat
	}
	return DiskRegisterReplyPayload{
		Type:   Type(binary.LittleEndian.Uint32(b[0:4])),
		Result: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}
