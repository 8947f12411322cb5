package boot

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iarch "github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
	march "github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
)

func putTagHeader(buf []byte, off int, kind TagKind, flags uint32, next uint64) {
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(kind))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], flags)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], next)
}

func TestParseTagsStackAndClose(t *testing.T) {
	buf := make([]byte, tagHeaderSize+32+tagHeaderSize)
	putTagHeader(buf, 0, TagStackDescriptor, 0, uint64(tagHeaderSize+32))
	binary.LittleEndian.PutUint64(buf[tagHeaderSize:tagHeaderSize+8], 0x7fff0000)
	binary.LittleEndian.PutUint64(buf[tagHeaderSize+8:tagHeaderSize+16], 0x10000)
	binary.LittleEndian.PutUint64(buf[tagHeaderSize+16:tagHeaderSize+24], 0x1000)
	putTagHeader(buf, tagHeaderSize+32, TagClose, 0, 0)

	tags, err := ParseTags(buf)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	require.Equal(t, TagStackDescriptor, tags[0].Kind)
	require.Equal(t, TagClose, tags[1].Kind)

	sd, err := DecodeStackDescriptor(tags[0].Body)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7fff0000), sd.Top)
	require.Equal(t, uint64(0x10000), sd.Size)
}

func TestParseTagsRejectsMissingClose(t *testing.T) {
	buf := make([]byte, tagHeaderSize)
	putTagHeader(buf, 0, TagRSDP, 0, 0)
	_, err := ParseTags(buf)
	require.Error(t, err)
}

func TestDecodeLoadModules(t *testing.T) {
	// one module, path "init", no separate cmdline string.
	const entrySize = 32
	strings := []byte("init\x00")
	body := make([]byte, 8+entrySize+len(strings))
	binary.LittleEndian.PutUint64(body[0:8], 1)
	binary.LittleEndian.PutUint64(body[8:16], 42)  // object id
	binary.LittleEndian.PutUint64(body[16:24], 99) // size
	binary.LittleEndian.PutUint64(body[24:32], uint64(8+entrySize))
	binary.LittleEndian.PutUint64(body[32:40], uint64(8+entrySize)) // cmdline offset == path: cmdline reads back as "init" too
	copy(body[8+entrySize:], strings)

	mods, err := DecodeLoadModules(body)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	require.Equal(t, uint64(42), mods[0].MemoryObjectID)
	require.Equal(t, "init", mods[0].Path)
}

func TestBootBringsUpSchedulableKernel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	k, err := Boot(ctx, Config{
		NCPUs:       2,
		TotalPages:  256,
		Arch:        march.AMD64Level4,
		Hooks:       iarch.NewX86(),
		QuantumTick: time.Millisecond,
	})
	require.NoError(t, err)
	defer k.Shutdown()

	res, taskID := k.Syscall.Dispatch(ctx, syscall.Regs{Num: syscall.SysCreateTask, Arg: [6]uint64{0, 4}})
	require.Equal(t, int64(0), res)
	require.NotZero(t, taskID)

	res, _ = k.Syscall.Dispatch(ctx, syscall.Regs{Num: syscall.SysStartTask, Arg: [6]uint64{uint64(taskID), 0x1000}})
	require.Equal(t, int64(0), res)

	time.Sleep(20 * time.Millisecond) // let a CPU loop actually pick it up
}
