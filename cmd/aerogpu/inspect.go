package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/gogpu/aerogpu"
	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/guestmem"
	"github.com/gogpu/aerogpu/internal/wire"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	decode bool
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string { return "inspect" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string { return "list the packets and allocation tables of a trace as JSON" }

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <trace> - decode a trace without executing it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.decode, "decode", true, "decode known commands and print their fields.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	traces, err := conf.find(f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	tr := traces[0]
	mem, mapped, err := openMemory(tr, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if mapped != nil {
		defer mapped.Close()
	}
	os.Stdout.Write(inspectTrace(tr, mem, i.decode))
	fmt.Println()
	return subcommands.ExitSuccess
}

func inspectTrace(tr trace, mem guestmem.Reader, decode bool) []byte {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("trace").String(tr.Name)
	subs := obj.Name("submissions").Array()
	for _, s := range tr.Submissions {
		o := subs.Object()
		inspectSubmission(&o, mem, s, decode)
		o.End()
	}
	subs.End()
	obj.End()
	return w.Bytes()
}

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }

func inspectSubmission(o *jwriter.ObjectState, mem guestmem.Reader, s submission, decode bool) {
	o.Name("cmd_addr").String(hex(s.CmdAddr))
	o.Name("cmd_size").Int(int(s.CmdSize))
	if s.AllocSize != 0 {
		inspectTable(o, mem, s)
	}
	if s.CmdSize < wire.HeaderSize || s.CmdSize > aerogpu.MaxStreamSize {
		o.Name("error").String(fmt.Sprintf("command stream size %d outside [%d, %d]", s.CmdSize, wire.HeaderSize, aerogpu.MaxStreamSize))
		return
	}
	buf := make([]byte, s.CmdSize)
	if err := mem.Read(s.CmdAddr, buf); err != nil {
		o.Name("error").String(err.Error())
		return
	}
	r, err := wire.NewReader(buf)
	if err != nil {
		o.Name("error").String(err.Error())
		return
	}
	h := r.Header()
	o.Name("abi").String(fmt.Sprintf("%d.%d", h.Major(), h.Minor()))
	o.Name("size_bytes").Int(int(h.SizeBytes))
	o.Name("flags").Int(int(h.Flags))

	packets := o.Name("packets").Array()
	defer packets.End()
	for {
		p, err := r.Next()
		if err == io.EOF {
			return
		}
		po := packets.Object()
		if err != nil {
			po.Name("offset").Int(int(r.Offset()))
			po.Name("error").String(err.Error())
			po.End()
			return
		}
		po.Name("offset").Int(int(p.Offset))
		po.Name("opcode").String(p.Opcode.String())
		po.Name("size").Int(int(p.Size()))
		if decode {
			if cmd, err := wire.Decode(p); err != nil {
				po.Name("error").String(err.Error())
			} else if p.Opcode.Known() {
				po.Name("command").String(summary(cmd))
			}
		}
		po.End()
	}
}

// summary renders cmd for humans; inline payloads are shown by size.
func summary(cmd wire.Command) string {
	switch c := cmd.(type) {
	case wire.UploadResource:
		return fmt.Sprintf("{Handle:%d Offset:%#x Bytes:%d}", c.Handle, c.Offset, len(c.Data))
	case wire.DebugMarker:
		return fmt.Sprintf("%q", c.Text)
	}
	return fmt.Sprintf("%+v", cmd)
}

func inspectTable(o *jwriter.ObjectState, mem guestmem.Reader, s submission) {
	t := o.Name("alloc_table").Object()
	defer t.End()
	t.Name("addr").String(hex(s.AllocAddr))
	t.Name("size").Int(int(s.AllocSize))
	table, err := alloc.Decode(mem, s.AllocAddr, s.AllocSize)
	if err != nil {
		t.Name("error").String(err.Error())
		return
	}
	entries := t.Name("entries").Array()
	for _, id := range table.IDs() {
		e, _ := table.Get(id)
		eo := entries.Object()
		eo.Name("id").Int(int(e.ID))
		eo.Name("read_only").Bool(e.ReadOnly())
		eo.Name("base").String(hex(e.Base))
		eo.Name("size").String(hex(e.Size))
		eo.End()
	}
	entries.End()
}
