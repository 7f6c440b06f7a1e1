package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"

	"github.com/gogpu/aerogpu"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	trace  string
	handle uint
	mip    uint
	layer  uint
	out    string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string { return "dump" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string { return "replay a trace and write one texture as a BMP image" }

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump -trace <name> -handle <texture> [-mip n] [-layer n] [-o file.bmp]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.trace, "trace", "", "trace to replay.")
	f.UintVar(&d.handle, "handle", 0, "texture handle to dump after the replay.")
	f.UintVar(&d.mip, "mip", 0, "mip level.")
	f.UintVar(&d.layer, "layer", 0, "array layer.")
	f.StringVar(&d.out, "o", "texture.bmp", "output file.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if d.trace == "" || d.handle == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	log := args[1].(*logrus.Logger)
	traces, err := conf.find([]string{d.trace})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	img, err := d.capture(ctx, conf, log, traces[0])
	if err != nil {
		log.WithError(err).Error("dump failed")
		return subcommands.ExitFailure
	}
	if err := writeBMP(d.out, img); err != nil {
		log.WithError(err).Error("dump failed")
		return subcommands.ExitFailure
	}
	log.WithFields(logrus.Fields{"file": d.out, "size": img.Bounds().Size()}).Info("texture written")
	return subcommands.ExitSuccess
}

func (d *Dump) capture(ctx context.Context, conf *config, log *logrus.Logger, tr trace) (*image.NRGBA, error) {
	s, err := openSession(conf, tr)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	s.replay(ctx, log, tr)

	h, mip, layer := uint32(d.handle), uint32(d.mip), uint32(d.layer)
	level, err := s.ex.Level(h, mip, layer)
	if err != nil {
		return nil, err
	}
	data, err := s.ex.ReadTexture(ctx, h, mip, layer)
	if err != nil {
		return nil, err
	}
	return toImage(level, data)
}

// toImage wraps tightly packed 8-bit RGBA or BGRA rows in an image.
func toImage(l aerogpu.TextureLevel, data []byte) (*image.NRGBA, error) {
	if l.Format.Compressed() {
		return nil, errors.Newf("texture is stored as %s; only 8-bit color formats can be dumped", l.Format)
	}
	row := int(l.Width) * 4
	if len(data) < row*int(l.Height) {
		return nil, errors.Newf("%d bytes for a %dx%d texture", len(data), l.Width, l.Height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, int(l.Width), int(l.Height)))
	for y := 0; y < int(l.Height); y++ {
		dst := img.Pix[y*img.Stride:][:row]
		copy(dst, data[y*row:])
		if l.Format.BGR() {
			for x := 0; x < row; x += 4 {
				dst[x], dst[x+2] = dst[x+2], dst[x]
			}
		}
	}
	return img, nil
}

func writeBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}
