package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/wire"
)

const (
	imageSize  = 1 << 20
	streamAddr = 0x1000
	tableAddr  = 0x2000
	bufferAddr = 0x10000
)

var payload = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

// writeImage builds a guest RAM image holding one submission that copies
// payload into guest memory through a writeback, and returns the trace.
func writeImage(t *testing.T, writable bool) trace {
	t.Helper()
	img := make([]byte, imageSize)
	cmds := wire.NewBuilder().
		Append(wire.CreateBuffer{Handle: 1, Size: 16}).
		Append(wire.UploadResource{Handle: 1, Data: payload}).
		Append(wire.CreateBuffer{Handle: 2, Size: 16, AllocID: 7}).
		Append(wire.CopyBuffer{Dst: 2, Src: 1, Size: 16, Flags: wire.CopyFlagWriteback}).
		Append(rgbaTexture(3)).
		Append(wire.UploadResource{Handle: 3, Data: bytes.Repeat([]byte{10, 20, 30, 40}, 4)}).
		Bytes()
	table := alloc.Encode(0, alloc.Entry{ID: 7, Base: bufferAddr, Size: 0x100})
	copy(img[streamAddr:], cmds)
	copy(img[tableAddr:], table)

	path := filepath.Join(t.TempDir(), "guest.img")
	require.NoError(t, os.WriteFile(path, img, 0o644))
	return trace{
		Name:     "boot",
		Memory:   path,
		Writable: writable,
		Submissions: []submission{
			{CmdAddr: streamAddr, CmdSize: uint32(len(cmds)), AllocAddr: tableAddr, AllocSize: uint32(len(table))},
			{CmdAddr: streamAddr, CmdSize: 8},
		},
	}
}

func rgbaTexture(h uint32) wire.CreateTexture2D {
	return wire.CreateTexture2D{
		Handle: h, Format: uint32(layout.FormatB8G8R8A8Unorm), Width: 2, Height: 2, MipLevels: 1, ArrayLayers: 1,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestReplayAll(t *testing.T) {
	for _, writable := range []bool{false, true} {
		tr := writeImage(t, writable)
		conf := &config{Backend: backend.BackendSoftware, Traces: []trace{tr}}
		results, err := replayAll(context.Background(), conf, quietLogger(), conf.Traces, 2)
		require.NoError(t, err)
		require.Len(t, results, 1)

		reps := results[0].reports
		require.Len(t, reps, 2)
		assert.True(t, reps[0].OK(), "first submission: %v", reps[0].Err())
		assert.Equal(t, uint32(6), reps[0].PacketsProcessed)
		assert.False(t, reps[1].OK(), "a stream smaller than its header must fail")
		assert.False(t, results[0].ok())

		img, err := os.ReadFile(tr.Memory)
		require.NoError(t, err)
		got := img[bufferAddr : bufferAddr+16]
		if writable {
			assert.Equal(t, payload, got, "writeback did not reach the image file")
		} else {
			assert.Equal(t, make([]byte, 16), got, "private replay modified the image file")
		}
	}
}

func TestResultsJSON(t *testing.T) {
	tr := writeImage(t, false)
	conf := &config{Backend: backend.BackendSoftware, Traces: []trace{tr}}
	results, err := replayAll(context.Background(), conf, quietLogger(), conf.Traces, 1)
	require.NoError(t, err)

	var doc []struct {
		Trace       string `json:"trace"`
		OK          bool   `json:"ok"`
		Submissions []struct {
			PacketsProcessed int  `json:"packets_processed"`
			OK               bool `json:"ok"`
			Events           []struct {
				ErrorKind string `json:"error_kind"`
			} `json:"events"`
		} `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(resultsJSON(results), &doc))
	require.Len(t, doc, 1)
	assert.Equal(t, "boot", doc[0].Trace)
	require.Len(t, doc[0].Submissions, 2)
	assert.Equal(t, 6, doc[0].Submissions[0].PacketsProcessed)
	require.Len(t, doc[0].Submissions[1].Events, 1)
	assert.Equal(t, "stream_too_small", doc[0].Submissions[1].Events[0].ErrorKind)
}

func TestInspectTrace(t *testing.T) {
	tr := writeImage(t, false)
	mem, mapped, err := openMemory(tr, true)
	require.NoError(t, err)
	defer mapped.Close()

	var doc struct {
		Trace       string `json:"trace"`
		Submissions []struct {
			ABI        string `json:"abi"`
			Error      string `json:"error"`
			AllocTable struct {
				Entries []struct {
					ID   int    `json:"id"`
					Base string `json:"base"`
				} `json:"entries"`
			} `json:"alloc_table"`
			Packets []struct {
				Opcode  string `json:"opcode"`
				Command string `json:"command"`
			} `json:"packets"`
		} `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(inspectTrace(tr, mem, true), &doc))
	require.Len(t, doc.Submissions, 2)

	first := doc.Submissions[0]
	assert.Equal(t, "1.1", first.ABI)
	require.Len(t, first.AllocTable.Entries, 1)
	assert.Equal(t, 7, first.AllocTable.Entries[0].ID)
	assert.Equal(t, "0x10000", first.AllocTable.Entries[0].Base)

	var ops []string
	for _, p := range first.Packets {
		ops = append(ops, p.Opcode)
	}
	assert.Equal(t, []string{
		"CREATE_BUFFER", "UPLOAD_RESOURCE", "CREATE_BUFFER", "COPY_BUFFER", "CREATE_TEXTURE2D", "UPLOAD_RESOURCE",
	}, ops)
	assert.Equal(t, "{Handle:1 Offset:0x0 Bytes:16}", first.Packets[1].Command)

	assert.NotEmpty(t, doc.Submissions[1].Error)
}

func TestDumpCapture(t *testing.T) {
	tr := writeImage(t, false)
	conf := &config{Backend: backend.BackendSoftware, Traces: []trace{tr}}
	d := &Dump{trace: "boot", handle: 3}
	img, err := d.capture(context.Background(), conf, quietLogger(), tr)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	// BGRA 10,20,30,40 is RGBA 30,20,10,40.
	assert.Equal(t, []byte{30, 20, 10, 40}, img.Pix[:4])

	out := filepath.Join(t.TempDir(), "tex.bmp")
	require.NoError(t, writeBMP(out, img))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "BM", string(b[:2]))
}
