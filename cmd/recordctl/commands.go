package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oy3o/safecodec"
	"github.com/oy3o/safecodec/frame"
	"github.com/oy3o/safecodec/manifest"
	"github.com/oy3o/safecodec/policy"
)

func runHeader(a *app, args []string) error {
	fs := a.flags("header")
	maxPayload := fs.Uint32("max-payload", safecodec.MaxLength, "largest payload to accept, in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in, err := a.open(fs.Args())
	if err != nil {
		return err
	}
	defer in.Close()

	r := frame.NewReader(in, *maxPayload)
	for i := 0; ; i++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		h, n, err := safecodec.DecodeHeader(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		fmt.Fprintf(a.stdout, "%d\ttype=%d\tversion=%d\theader=%d\tpayload=%d\n", i, h.TypeID, h.Version, n, h.Length)
	}
}

func runDump(a *app, args []string) error {
	fs := a.flags("dump")
	manifestPath := fs.String("manifest", "", "schema manifest (required)")
	typeName := fs.String("type", "", "record type name or id (required)")
	policyPath := fs.String("policy", "", "decode policy file; default admits every manifest type, uncapped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifestPath == "" || *typeName == "" {
		return errors.New("dump: --manifest and --type are required")
	}
	reg, err := a.loadRegistry(*manifestPath)
	if err != nil {
		return err
	}
	id, err := policy.LookupType(reg, *typeName)
	if err != nil {
		return err
	}
	pol := &policy.Policy{Allow: reg.AllowAll()}
	if *policyPath != "" {
		if pol, err = policy.Load(*policyPath, reg); err != nil {
			return err
		}
	}

	in, err := a.open(fs.Args())
	if err != nil {
		return err
	}
	defer in.Close()
	r := frame.NewReader(in, safecodec.MaxLength)
	for i := 0; ; i++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		v, err := pol.Decode(reg, rec, id)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		a.printFields(i, v.(*safecodec.Fields))
	}
}

func (a *app) printFields(i int, f *safecodec.Fields) {
	d := f.Descriptor()
	fmt.Fprintf(a.stdout, "%d\t%s\n", i, d)
	for _, fd := range d.Fields() {
		v, ok := f.Get(fd.Name)
		if !ok {
			fmt.Fprintf(a.stdout, "\t%s: <absent>\n", fd.Name)
			continue
		}
		if nested, isFields := v.(*safecodec.Fields); isFields {
			fmt.Fprintf(a.stdout, "\t%s: %s\n", fd.Name, nested.Descriptor())
			continue
		}
		fmt.Fprintf(a.stdout, "\t%s: %v\n", fd.Name, v)
	}
}

func (a *app) loadRegistry(path string) (*safecodec.Registry, error) {
	m, err := a.loadManifest(path)
	if err != nil {
		return nil, err
	}
	return m.Registry(safecodec.WithLogger(a.log))
}

func (a *app) loadManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return manifest.Unmarshal(data)
}

func runPack(a *app, args []string) error {
	fs := a.flags("pack")
	name := fs.String("compression", "zstd", "none, lz4 or zstd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := frame.ParseCompression(*name)
	if err != nil {
		return err
	}
	in, err := a.open(fs.Args())
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(frame.LimitReader(in, safecodec.MaxLength))
	if err != nil {
		return err
	}
	env, err := frame.Compress(data, c)
	if err != nil {
		return err
	}
	a.log.Debug().Int("in", len(data)).Int("out", len(env)).Stringer("compression", frame.Compression(env[0])).Msg("packed")
	_, err = a.stdout.Write(env)
	return err
}

func runUnpack(a *app, args []string) error {
	fs := a.flags("unpack")
	maxSize := fs.Int("max-size", 64<<20, "largest decompressed size to accept, in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in, err := a.open(fs.Args())
	if err != nil {
		return err
	}
	defer in.Close()
	env, err := io.ReadAll(frame.LimitReader(in, int64(*maxSize)+5))
	if err != nil {
		return err
	}
	data, err := frame.Decompress(env, *maxSize)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

func runDiff(a *app, args []string) error {
	fs := a.flags("diff")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("diff: want two manifest files")
	}
	old, err := a.loadManifest(fs.Arg(0))
	if err != nil {
		return err
	}
	cur, err := a.loadManifest(fs.Arg(1))
	if err != nil {
		return err
	}
	changed := 0
	for _, c := range manifest.Diff(old, cur) {
		fmt.Fprintln(a.stdout, c)
		if c.Kind == manifest.Changed {
			changed++
		}
	}
	if changed > 0 {
		return fmt.Errorf("diff: %d type versions changed shape", changed)
	}
	return nil
}

func runPolicy(a *app, args []string) error {
	fs := a.flags("policy")
	manifestPath := fs.String("manifest", "", "schema manifest used to resolve type names (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifestPath == "" || fs.NArg() != 1 {
		return errors.New("policy: want --manifest and one policy file")
	}
	reg, err := a.loadRegistry(*manifestPath)
	if err != nil {
		return err
	}
	p, err := policy.Load(fs.Arg(0), reg)
	if err != nil {
		return err
	}
	l := p.Limits
	fmt.Fprintf(a.stdout, "allowed_types=%v max_depth=%d max_fields=%d max_bytes=%d max_steps=%d timeout=%s\n",
		p.Allow.IDs(), l.MaxDepth, l.MaxFields, l.MaxBytes, l.MaxSteps, l.Timeout)
	return nil
}
