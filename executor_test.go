package aerogpu

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/backend/software"
	"github.com/gogpu/aerogpu/guestmem"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/wire"
)

const guestSize = 1 << 20

// newTestExecutor returns an executor on a fresh CPU device.
func newTestExecutor(t *testing.T, mem guestmem.Memory, dev *software.Device, opts ...Option) *Executor {
	t.Helper()
	if dev == nil {
		dev = software.New()
	}
	ex, err := New(mem, append([]Option{WithDevice(dev)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = ex.Close() })
	return ex
}

func stream(cmds ...wire.Command) []byte {
	b := wire.NewBuilder()
	for _, c := range cmds {
		b.Append(c)
	}
	return b.Bytes()
}

func mustTable(t *testing.T, entries ...alloc.Entry) *alloc.Table {
	t.Helper()
	tbl, err := alloc.New(entries...)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func mustOK(t *testing.T, rep Report) {
	t.Helper()
	if !rep.OK() {
		t.Fatalf("report after %d packets: %v", rep.PacketsProcessed, rep.Err())
	}
}

// mustFail checks that rep stopped at packet at with an error of kind.
func mustFail(t *testing.T, rep Report, at uint32, kind error, contains string) {
	t.Helper()
	if rep.OK() {
		t.Fatalf("report OK after %d packets, want failure at %d", rep.PacketsProcessed, at)
	}
	if len(rep.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(rep.Events))
	}
	ev := rep.Events[0]
	if rep.PacketsProcessed != at || ev.At != at {
		t.Errorf("packets_processed = %d, at = %d; want %d", rep.PacketsProcessed, ev.At, at)
	}
	if !errors.Is(ev.Err, kind) {
		t.Errorf("error %v does not match %v", ev.Err, kind)
	}
	if !strings.Contains(ev.Message, contains) {
		t.Errorf("message %q does not contain %q", ev.Message, contains)
	}
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}

func rgba8Texture(h, w, ht uint32) wire.CreateTexture2D {
	return wire.CreateTexture2D{
		Handle: h, Usage: wire.UsageTexture | wire.UsageRenderTarget,
		Format: uint32(layout.FormatR8G8B8A8Unorm), Width: w, Height: ht, MipLevels: 1, ArrayLayers: 1,
	}
}

func TestPacketThreeOfFiveFails(t *testing.T) {
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	rep := ex.Execute(context.Background(), stream(
		wire.CreateBuffer{Handle: 1, Size: 16},
		wire.CreateBuffer{Handle: 2, Size: 16},
		rgba8Texture(3, 4, 4),
		wire.ResourceDirtyRange{Handle: 1, Offset: 0, Size: 4},
		wire.Nop{},
	), nil)
	mustFail(t, rep, 3, ErrValidation, "not supported, use UPLOAD_RESOURCE")

	// Resources created before the failure survive; the executor stays usable.
	if bufs, texs := ex.Resources(); bufs != 2 || texs != 1 {
		t.Errorf("Resources() = %d, %d; want 2, 1", bufs, texs)
	}
	mustOK(t, ex.Execute(context.Background(), stream(wire.DestroyResource{Handle: 1}), nil))
}

func TestDirtyRangeOnHostOwnedTexture(t *testing.T) {
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	rep := ex.Execute(context.Background(), stream(
		rgba8Texture(7, 2, 2),
		wire.ResourceDirtyRange{Handle: 7, Offset: 0, Size: 8},
	), nil)
	mustFail(t, rep, 1, ErrValidation, "use UPLOAD_RESOURCE")
}

func TestCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x1000, Size: 0x1000})
	buf := wire.CreateBuffer{Handle: 1, Usage: wire.UsageVertexBuffer, Size: 64}
	tex := rgba8Texture(2, 8, 8)

	mustOK(t, ex.Execute(ctx, stream(buf, tex, buf, tex), nil))
	if bufs, texs := ex.Resources(); bufs != 1 || texs != 1 {
		t.Fatalf("Resources() = %d, %d; want 1, 1", bufs, texs)
	}

	// Rebinding a backing is allowed.
	backed := buf
	backed.AllocID = 1
	mustOK(t, ex.Execute(ctx, stream(backed), tbl))
	b, _ := ex.store.Buffer(1)
	if b.Backing == nil || b.Backing.AllocID != 1 {
		t.Errorf("backing = %+v, want alloc_id 1", b.Backing)
	}

	tests := []struct {
		name string
		cmd  wire.Command
	}{
		{"buffer size", wire.CreateBuffer{Handle: 1, Usage: wire.UsageVertexBuffer, Size: 128}},
		{"buffer usage", wire.CreateBuffer{Handle: 1, Usage: wire.UsageIndexBuffer, Size: 64}},
		{"texture width", rgba8Texture(2, 16, 8)},
		{"texture as buffer", wire.CreateBuffer{Handle: 2, Size: 64}},
		{"buffer as texture", rgba8Texture(1, 8, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustFail(t, ex.Execute(ctx, stream(tt.cmd), tbl), 0, ErrValidation, "")
		})
	}
	if bufs, texs := ex.Resources(); bufs != 1 || texs != 1 {
		t.Errorf("Resources() = %d, %d after mismatches; want 1, 1", bufs, texs)
	}
}

func TestCreateRejects(t *testing.T) {
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x1000, Size: 0x100})
	tests := []struct {
		name     string
		cmd      wire.Command
		table    *alloc.Table
		contains string
	}{
		{"zero handle", wire.CreateBuffer{Size: 4}, nil, "handle 0"},
		{"zero size", wire.CreateBuffer{Handle: 1}, nil, "multiple of 4"},
		{"unaligned size", wire.CreateBuffer{Handle: 1, Size: 6}, nil, "multiple of 4"},
		{"backing without table", wire.CreateBuffer{Handle: 1, Size: 4, AllocID: 1}, nil, "requires alloc_table"},
		{"backing past entry", wire.CreateBuffer{Handle: 1, Size: 0x100, AllocID: 1, AllocOffset: 4}, tbl, "backing range"},
		{"unknown alloc", wire.CreateBuffer{Handle: 1, Size: 4, AllocID: 9}, tbl, "backing range"},
		{"unknown format", wire.CreateTexture2D{Handle: 1, Format: 99, Width: 1, Height: 1, MipLevels: 1, ArrayLayers: 1}, nil, "unsupported format"},
		{"depth format", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatD32Float), Width: 1, Height: 1, MipLevels: 1, ArrayLayers: 1}, nil, "depth format"},
		{"zero width", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Height: 1, MipLevels: 1, ArrayLayers: 1}, nil, "invalid dimensions"},
		{"too many mips", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 4, Height: 4, MipLevels: 4, ArrayLayers: 1}, nil, "mip_levels"},
		{"small pitch", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1, RowPitch: 8}, nil, "row pitch"},
		{"backed without pitch", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1, AllocID: 1}, tbl, "row_pitch"},
		{"bc7 without native", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatBC7RgbaUnorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1}, nil, "no CPU decoder"},
		{"bc render target", wire.CreateTexture2D{Handle: 1, Usage: wire.UsageRenderTarget, Format: uint32(layout.FormatBC1RgbaUnorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1}, nil, "render target"},
		{"huge buffer", wire.CreateBuffer{Handle: 1, Size: 1 << 62}, nil, "device limit"},
		{"huge texture", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 65536, Height: 65536, MipLevels: 1, ArrayLayers: 1}, nil, "device limit"},
		{"too many layers", wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1 << 20}, nil, "device limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
			mustFail(t, ex.Execute(context.Background(), stream(tt.cmd), tt.table), 0, ErrValidation, tt.contains)
		})
	}
}

func TestCreateHonorsDeviceLimits(t *testing.T) {
	dev := software.New(software.WithLimits(backend.Limits{MaxBufferSize: 64, MaxTextureDimension: 16, MaxTextureArrayLayers: 2}))
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), dev)
	rgba := uint32(layout.FormatR8G8B8A8Unorm)

	mustOK(t, ex.Execute(context.Background(), stream(
		wire.CreateBuffer{Handle: 1, Size: 64},
		wire.CreateTexture2D{Handle: 2, Format: rgba, Width: 16, Height: 16, MipLevels: 1, ArrayLayers: 2},
	), nil))

	tests := []struct {
		name string
		cmd  wire.Command
	}{
		{"buffer", wire.CreateBuffer{Handle: 3, Size: 68}},
		{"width", wire.CreateTexture2D{Handle: 3, Format: rgba, Width: 17, Height: 1, MipLevels: 1, ArrayLayers: 1}},
		{"height", wire.CreateTexture2D{Handle: 3, Format: rgba, Width: 1, Height: 17, MipLevels: 1, ArrayLayers: 1}},
		{"layers", wire.CreateTexture2D{Handle: 3, Format: rgba, Width: 1, Height: 1, MipLevels: 1, ArrayLayers: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustFail(t, ex.Execute(context.Background(), stream(wire.Nop{}, tt.cmd), nil), 1, ErrValidation, "device limit")
		})
	}
	if bufs, texs := dev.Live(); bufs != 1 || texs != 1 {
		t.Errorf("device holds %d buffers and %d textures, want 1 and 1", bufs, texs)
	}
}

func TestBC7WithNativeSupport(t *testing.T) {
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), software.New(software.WithNativeBC(true)))
	mustOK(t, ex.Execute(context.Background(), stream(wire.CreateTexture2D{
		Handle: 1, Format: uint32(layout.FormatBC7RgbaUnorm), Width: 8, Height: 8, MipLevels: 2, ArrayLayers: 1,
	}), nil))
}

func TestUploadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format layout.Format
		want   func(in []byte) []byte
	}{
		{"rgba8", layout.FormatR8G8B8A8Unorm, nil},
		{"bgra8 srgb", layout.FormatB8G8R8A8UnormSrgb, nil},
		{"rgbx8", layout.FormatR8G8B8X8Unorm, forcedAlpha},
		{"bgrx8", layout.FormatB8G8R8X8Unorm, forcedAlpha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
			// 5x7 with the tight pitch: rows_in_layout 7, 20 bytes per row.
			data := pattern(5*7*4, 3)
			mustOK(t, ex.Execute(ctx, stream(
				wire.CreateTexture2D{Handle: 1, Format: uint32(tt.format), Width: 5, Height: 7, MipLevels: 1, ArrayLayers: 1},
				wire.UploadResource{Handle: 1, Offset: 0, Data: data},
			), nil))
			got, err := ex.ReadTexture(ctx, 1, 0, 0)
			if err != nil {
				t.Fatal(err)
			}
			want := data
			if tt.want != nil {
				want = tt.want(data)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("round trip mismatch:\n got %v\nwant %v", got, want)
			}
		})
	}
}

func forcedAlpha(in []byte) []byte {
	out := bytes.Clone(in)
	for i := 3; i < len(out); i += 4 {
		out[i] = 0xFF
	}
	return out
}

func TestUploadSplitsSubresources(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	create := wire.CreateTexture2D{
		Handle: 1, Format: uint32(layout.FormatR8G8B8A8Unorm), Width: 4, Height: 4, MipLevels: 3, ArrayLayers: 2,
	}
	subs, err := layout.Subresources(layout.FormatR8G8B8A8Unorm, 4, 4, 3, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	data := pattern(int(layout.TotalSize(subs)), 11)

	// Two uploads split on a subresource boundary inside layer 0.
	cut := subs[1].Offset + uint64(subs[1].RowPitch)
	mustOK(t, ex.Execute(ctx, stream(
		create,
		wire.UploadResource{Handle: 1, Offset: 0, Data: data[:cut]},
		wire.UploadResource{Handle: 1, Offset: cut, Data: data[cut:]},
	), nil))

	for _, s := range subs {
		got, err := ex.ReadTexture(ctx, 1, s.MipLevel, s.ArrayLayer)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(data[s.Offset:s.End()], got); diff != "" {
			t.Errorf("mip %d layer %d mismatch (-want +got):\n%s", s.MipLevel, s.ArrayLayer, diff)
		}
	}
}

func TestUploadRejects(t *testing.T) {
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x1000, Size: 0x1000})
	tests := []struct {
		name     string
		cmd      wire.UploadResource
		contains string
	}{
		{"unknown handle", wire.UploadResource{Handle: 9, Data: make([]byte, 4)}, "does not exist"},
		{"guest-backed buffer", wire.UploadResource{Handle: 2, Data: make([]byte, 4)}, "use RESOURCE_DIRTY_RANGE"},
		{"unaligned buffer offset", wire.UploadResource{Handle: 1, Offset: 2, Data: make([]byte, 4)}, "aligned"},
		{"buffer overrun", wire.UploadResource{Handle: 1, Offset: 12, Data: make([]byte, 8)}, "exceeds buffer"},
		{"texture mid-row", wire.UploadResource{Handle: 3, Offset: 4, Data: make([]byte, 16)}, "row-aligned"},
		{"texture partial row", wire.UploadResource{Handle: 3, Offset: 0, Data: make([]byte, 12)}, "row-aligned"},
		{"texture overrun", wire.UploadResource{Handle: 3, Offset: 48, Data: make([]byte, 32)}, "exceeds texture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
			rep := ex.Execute(context.Background(), stream(
				wire.CreateBuffer{Handle: 1, Size: 16},
				wire.CreateBuffer{Handle: 2, Size: 16, AllocID: 1},
				rgba8Texture(3, 4, 4),
				tt.cmd,
			), tbl)
			mustFail(t, rep, 3, ErrValidation, tt.contains)
		})
	}
}

func TestDirtyBufferFlushOnCopy(t *testing.T) {
	ctx := context.Background()
	mem := guestmem.NewFlat(guestSize)
	ex := newTestExecutor(t, mem, nil)
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x1000, Size: 0x100})

	guest := pattern(32, 1)
	if err := mem.Write(0x1000+0x10, guest); err != nil {
		t.Fatal(err)
	}
	mustOK(t, ex.Execute(ctx, stream(
		wire.CreateBuffer{Handle: 1, Size: 32, AllocID: 1, AllocOffset: 0x10},
		wire.CreateBuffer{Handle: 2, Size: 32},
		// Rounded out to [4, 12).
		wire.ResourceDirtyRange{Handle: 1, Offset: 5, Size: 3},
		wire.ResourceDirtyRange{Handle: 1, Offset: 9, Size: 1},
		wire.CopyBuffer{Dst: 2, Src: 1, Size: 32},
	), tbl))

	got, err := ex.ReadBuffer(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 32)
	copy(want[4:12], guest[4:12])
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flushed bytes mismatch (-want +got):\n%s", diff)
	}
	b, _ := ex.store.Buffer(1)
	if !b.Dirty.Empty() {
		t.Errorf("dirty ranges %v remain after flush", b.Dirty.Ranges())
	}
}

func TestDirtyTextureFlushOnlyTouchedRows(t *testing.T) {
	ctx := context.Background()
	mem := guestmem.NewFlat(guestSize)
	ex := newTestExecutor(t, mem, nil)
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x2000, Size: 0x1000})

	green := bytes.Repeat([]byte{0, 255, 0, 255}, 4*4)
	if err := mem.Write(0x2000, green); err != nil {
		t.Fatal(err)
	}
	backed := rgba8Texture(1, 4, 4)
	backed.AllocID, backed.RowPitch = 1, 16
	mustOK(t, ex.Execute(ctx, stream(
		backed,
		rgba8Texture(2, 4, 4),
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.Clear{Flags: wire.ClearColor, Color: [4]float32{1, 0, 0, 1}},
		// One texel of row 1.
		wire.ResourceDirtyRange{Handle: 1, Offset: 20, Size: 4},
		wire.CopyTexture2D{Dst: 2, Src: 1, Width: 4, Height: 4},
	), tbl))

	got, err := ex.ReadTexture(ctx, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	red := bytes.Repeat([]byte{255, 0, 0, 255}, 4)
	want := slicesConcat(red, green[16:32], red, red)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("texture mismatch (-want +got):\n%s", diff)
	}
}

func slicesConcat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDirtyRangeChecks(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	tbl1 := mustTable(t, alloc.Entry{ID: 1, Base: 0x1000, Size: 0x100})
	tbl2 := mustTable(t, alloc.Entry{ID: 2, Base: 0x3000, Size: 0x100})
	mustOK(t, ex.Execute(ctx, stream(wire.CreateBuffer{Handle: 1, Size: 64, AllocID: 1}), tbl1))

	// Zero-sized ranges are accepted.
	mustOK(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 1, Offset: 64}), tbl1))

	mustFail(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 1, Size: 4}), tbl2),
		0, ErrValidation, "not in the alloc table")
	mustFail(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 1, Size: 4}), nil),
		0, ErrValidation, "requires alloc_table")
	mustFail(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 1, Offset: 60, Size: 8}), tbl1),
		0, ErrValidation, "exceeds resource")
	mustFail(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 1, Offset: math.MaxUint64, Size: 2}), tbl1),
		0, ErrValidation, "exceeds resource")
	mustFail(t, ex.Execute(ctx, stream(wire.ResourceDirtyRange{Handle: 5, Size: 4}), tbl1),
		0, ErrValidation, "does not exist")
}

func TestDestroyClearsBindings(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	mustOK(t, ex.Execute(ctx, stream(
		rgba8Texture(1, 4, 4),
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.DestroyResource{Handle: 1},
		wire.DestroyResource{Handle: 1},
		wire.DestroyResource{Handle: 42},
	), nil))
	if ex.state.renderTarget != 0 {
		t.Errorf("render target = %d after destroy, want unbound", ex.state.renderTarget)
	}
	mustFail(t, ex.Execute(ctx, stream(wire.Clear{Flags: wire.ClearColor}), nil), 0, ErrValidation, "no render target")
}

func TestClearForcesAlphaOnX8(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	mustOK(t, ex.Execute(ctx, stream(
		wire.CreateTexture2D{Handle: 1, Format: uint32(layout.FormatB8G8R8X8Unorm), Width: 2, Height: 1, MipLevels: 1, ArrayLayers: 1},
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.Clear{Flags: wire.ClearColor, Color: [4]float32{0, 0, 1, 0}},
	), nil))
	got, err := ex.ReadTexture(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{255, 0, 0, 255, 255, 0, 0, 255}; !bytes.Equal(got, want) {
		t.Errorf("cleared = %v, want %v", got, want)
	}
}

func TestBindingRejects(t *testing.T) {
	tests := []struct {
		name     string
		cmd      wire.Command
		contains string
	}{
		{"two render targets", wire.SetRenderTargets{ColorCount: 2, Colors: [8]uint32{1, 1}}, "only 1"},
		{"depth target", wire.SetRenderTargets{ColorCount: 1, DepthStencil: 1, Colors: [8]uint32{1}}, "depth-stencil"},
		{"buffer as target", wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{2}}, "not a texture"},
		{"vertex slot 1", wire.SetVertexBuffers{StartSlot: 1, Bindings: []wire.VertexBufferBinding{{Buffer: 2, Stride: 8}}}, "only slot 0"},
		{"two vertex slots", wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 2, Stride: 8}, {Buffer: 2, Stride: 8}}}, "only slot 0"},
		{"texture as vertices", wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 1, Stride: 8}}}, "not a buffer"},
		{"index format", wire.SetIndexBuffer{Buffer: 2, Format: 7}, "index format"},
		{"index offset", wire.SetIndexBuffer{Buffer: 2, Format: wire.IndexFormatUint32, Offset: 2}, "not aligned"},
		{"index past end", wire.SetIndexBuffer{Buffer: 2, Format: wire.IndexFormatUint16, Offset: 66}, "exceeds buffer"},
		{"texture slot", wire.SetTexture{Slot: 1, Texture: 1}, "only slot 0"},
		{"missing texture", wire.SetTexture{Texture: 9}, "does not exist"},
		{"bc target", wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{3}}, "not renderable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
			rep := ex.Execute(context.Background(), stream(
				rgba8Texture(1, 4, 4),
				wire.CreateBuffer{Handle: 2, Size: 64},
				wire.CreateTexture2D{Handle: 3, Format: uint32(layout.FormatBC1RgbaUnorm), Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1},
				tt.cmd,
			), nil)
			mustFail(t, rep, 3, ErrValidation, tt.contains)
		})
	}
}

func vertexBytes(xy ...float32) []byte {
	out := make([]byte, 4*len(xy))
	for i, v := range xy {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func TestDrawFillsTarget(t *testing.T) {
	ctx := context.Background()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	fullScreen := vertexBytes(-1, -1, 3, -1, -1, 3)
	indices := []byte{0, 0, 1, 0, 2, 0, 0, 0}
	texel := []byte{10, 20, 30, 255}

	setup := []wire.Command{
		rgba8Texture(1, 4, 4),
		rgba8Texture(2, 1, 1),
		wire.UploadResource{Handle: 2, Data: texel},
		wire.CreateBuffer{Handle: 3, Usage: wire.UsageVertexBuffer, Size: 24},
		wire.UploadResource{Handle: 3, Data: fullScreen},
		wire.CreateBuffer{Handle: 4, Usage: wire.UsageIndexBuffer, Size: 8},
		wire.UploadResource{Handle: 4, Data: indices},
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 3, Stride: 8}}},
		wire.SetTexture{Texture: 2},
	}
	for _, indexed := range []bool{false, true} {
		cmds := append([]wire.Command(nil), setup...)
		if indexed {
			cmds = append(cmds,
				wire.SetIndexBuffer{Buffer: 4, Format: wire.IndexFormatUint16},
				wire.DrawIndexed{IndexCount: 3, InstanceCount: 1})
		} else {
			cmds = append(cmds, wire.Draw{VertexCount: 3, InstanceCount: 1})
		}
		ex.Reset()
		mustOK(t, ex.Execute(ctx, stream(cmds...), nil))
		got, err := ex.ReadTexture(ctx, 1, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if want := bytes.Repeat(texel, 16); !bytes.Equal(got, want) {
			t.Errorf("indexed=%v: target = %v, want %v", indexed, got, want)
		}
	}
}

func TestDrawRejects(t *testing.T) {
	base := []wire.Command{
		rgba8Texture(1, 4, 4),
		rgba8Texture(2, 1, 1),
		wire.CreateBuffer{Handle: 3, Size: 24},
		wire.CreateBuffer{Handle: 4, Size: 8},
	}
	bind := []wire.Command{
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 3, Stride: 8}}},
		wire.SetTexture{Texture: 2},
	}
	tests := []struct {
		name     string
		cmds     []wire.Command
		contains string
	}{
		{"no target", []wire.Command{bind[1], bind[2], wire.Draw{VertexCount: 3, InstanceCount: 1}}, "no render target"},
		{"no vertices", []wire.Command{bind[0], bind[2], wire.Draw{VertexCount: 3, InstanceCount: 1}}, "no vertex buffer"},
		{"no texture", []wire.Command{bind[0], bind[1], wire.Draw{VertexCount: 3, InstanceCount: 1}}, "no texture"},
		{"no index buffer", append(bind[:3:3], wire.DrawIndexed{IndexCount: 3, InstanceCount: 1}), "no index buffer"},
		{"stride", []wire.Command{bind[0], bind[2],
			wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 3, Stride: 12}}},
			wire.Draw{VertexCount: 2, InstanceCount: 1}}, "vertex stride 12"},
		{"vertex overrun", append(bind[:3:3], wire.Draw{VertexCount: 4, InstanceCount: 1}), "exceed buffer"},
		{"vertex overflow", append(bind[:3:3], wire.Draw{FirstVertex: math.MaxUint32, VertexCount: math.MaxUint32, InstanceCount: 1}), "exceed buffer"},
		{"index overrun", append(bind[:3:3],
			wire.SetIndexBuffer{Buffer: 4, Format: wire.IndexFormatUint32},
			wire.DrawIndexed{FirstIndex: 1, IndexCount: 2, InstanceCount: 1}), "exceed buffer"},
		{"sampling the target", []wire.Command{bind[0], bind[1], wire.SetTexture{Texture: 1}, wire.Draw{VertexCount: 3, InstanceCount: 1}}, "both render target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
			cmds := append(append([]wire.Command(nil), base...), tt.cmds...)
			at := uint32(len(cmds) - 1)
			mustFail(t, ex.Execute(context.Background(), stream(cmds...), nil), at, ErrValidation, tt.contains)
		})
	}
}

func TestRejectedDrawLeavesDirtyRanges(t *testing.T) {
	ctx := context.Background()
	mem := guestmem.NewFlat(guestSize)
	ex := newTestExecutor(t, mem, nil)
	tbl := mustTable(t, alloc.Entry{ID: 1, Base: 0x10000, Size: 0x100})
	verts := vertexBytes(-1, -1, 3, -1, -1, 3)
	if err := mem.Write(0x10000, verts); err != nil {
		t.Fatal(err)
	}

	cmds := []wire.Command{
		rgba8Texture(1, 4, 4),
		rgba8Texture(2, 1, 1),
		wire.CreateBuffer{Handle: 3, Usage: wire.UsageVertexBuffer, Size: 24, AllocID: 1},
		wire.ResourceDirtyRange{Handle: 3, Size: 24},
		wire.SetRenderTargets{ColorCount: 1, Colors: [8]uint32{1}},
		wire.SetVertexBuffers{Bindings: []wire.VertexBufferBinding{{Buffer: 3, Stride: 8}}},
		wire.SetTexture{Texture: 2},
		wire.Draw{VertexCount: 4, InstanceCount: 1},
	}
	mustFail(t, ex.Execute(ctx, stream(cmds...), tbl), uint32(len(cmds)-1), ErrValidation, "exceed buffer")

	got, err := ex.ReadBuffer(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := make([]byte, 24); !bytes.Equal(got, want) {
		t.Errorf("rejected draw uploaded the vertex buffer: %v", got)
	}

	mustOK(t, ex.Execute(ctx, stream(wire.Draw{VertexCount: 3, InstanceCount: 1}), tbl))
	if got, _ = ex.ReadBuffer(ctx, 3); !bytes.Equal(got, verts) {
		t.Errorf("vertex buffer after a valid draw = %v, want %v", got, verts)
	}
}

func TestUnknownOpcodesAreSkipped(t *testing.T) {
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), nil)
	b := wire.NewBuilder().
		Append(wire.DebugMarker{Text: []byte("frame \xff1\n")}).
		AppendRaw(0x9999, 16, make([]byte, 8)).
		Append(wire.Flush{})
	rep := ex.Execute(context.Background(), b.Bytes(), nil)
	mustOK(t, rep)
	if rep.PacketsProcessed != 3 {
		t.Errorf("PacketsProcessed = %d, want 3", rep.PacketsProcessed)
	}
}

func TestResetAndClose(t *testing.T) {
	ctx := context.Background()
	dev := software.New()
	ex := newTestExecutor(t, guestmem.NewFlat(guestSize), dev)
	mustOK(t, ex.Execute(ctx, stream(
		wire.CreateBuffer{Handle: 1, Size: 4},
		rgba8Texture(2, 1, 1),
		wire.SetTexture{Texture: 2},
	), nil))
	ex.Reset()
	if bufs, texs := ex.Resources(); bufs != 0 || texs != 0 {
		t.Errorf("Resources() = %d, %d after Reset", bufs, texs)
	}
	if bufs, texs := dev.Live(); bufs != 0 || texs != 0 {
		t.Errorf("device holds %d buffers, %d textures after Reset", bufs, texs)
	}
	if ex.state != (pipelineState{}) {
		t.Errorf("pipeline state %+v survives Reset", ex.state)
	}

	if err := ex.Close(); err != nil {
		t.Fatal(err)
	}
	mustFail(t, ex.Execute(ctx, stream(wire.Nop{}), nil), 0, ErrClosed, "closed")
	if _, err := ex.ReadBuffer(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadBuffer after Close: %v", err)
	}
	// The device belongs to the caller and stays open.
	if _, err := dev.CreateBuffer(backend.BufferDesc{Size: 4}); err != nil {
		t.Errorf("device closed with the executor: %v", err)
	}
}

func TestNewRequiresMemory(t *testing.T) {
	if _, err := New(nil, WithDevice(software.New())); err == nil {
		t.Error("New(nil) succeeded")
	}
}

func TestNewOpensRegisteredBackend(t *testing.T) {
	ex, err := New(guestmem.NewFlat(16), WithBackend("software"))
	if err != nil {
		t.Fatal(err)
	}
	if ex.Backend() != "software" {
		t.Errorf("Backend() = %q", ex.Backend())
	}
	if err := ex.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := New(guestmem.NewFlat(16), WithBackend("nope")); err == nil {
		t.Error("unknown backend accepted")
	}
}
