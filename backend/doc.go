// Package backend defines the graphics device the executor replays guest
// commands on.
//
// A Device creates buffers and textures, writes and copies them, runs the
// built-in draw pipeline and stages data for host readback. Two backends
// ship with the module:
//
//   - "software": deterministic CPU device (backend/software), always available
//   - "native": GPU device over gogpu/wgpu (backend/native), built unless the
//     nogpu tag is set
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import _ "github.com/gogpu/aerogpu/backend/software"
//
//	dev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// Or request a specific backend by name:
//
//	dev, err := backend.Get(backend.BackendSoftware)
//
// # Readback
//
// ReadbackBuffer and ReadbackTexture return a Readback whose contents become
// host-readable only after the producing work was submitted. Readback.Map
// reports completion through a callback. Devices with Caps.Cooperative
// deliver that callback only from Poll, so the caller must keep polling
// instead of blocking.
package backend
