package main

import (
	"context"
	"fmt"

	"github.com/joshuapare/cxmalloc/cxmalloc"
)

// familyDir overrides the descriptor's persistence path.
var familyDir string

// openFamily restores the family described by the YAML file at path, line
// data included. Lines are decoded with the raw serializer.
func openFamily(ctx context.Context, path string) (*cxmalloc.Family, error) {
	desc, err := cxmalloc.LoadDescriptor(path)
	if err != nil {
		return nil, err
	}
	if familyDir != "" {
		desc.Persist.Path = familyDir
	}
	if desc.Persist.Path == "" {
		return nil, fmt.Errorf("descriptor %s has no persist path; pass --dir", path)
	}
	printVerbose("Restoring family %q from %s\n", desc.Name, desc.Persist.Path)
	f, err := cxmalloc.NewFamily(desc, cxmalloc.WithSerializer(cxmalloc.RawSerializer{}))
	if err != nil {
		return nil, err
	}
	n, err := f.RestoreObjects(ctx)
	if err != nil {
		f.Close()
		return nil, err
	}
	printVerbose("Restored %d lines\n", n)
	return f, nil
}
