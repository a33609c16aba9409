package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrDescriptorNotFound is returned when no descriptor exists at the given reference.
var ErrDescriptorNotFound = errors.New("descriptor not found")

// ErrUnsafePath is returned for resource paths that leave the package root.
var ErrUnsafePath = errors.New("resource path escapes package root")

// descriptorNames are tried in order when a directory is given.
var descriptorNames = []string{"datapackage.json", "datapackage.yaml", "datapackage.yml"}

// Package is a parsed descriptor bound to the directory its resources live in.
type Package struct {
	Descriptor *PackageDescriptor
	Root       string
	Path       string
}

// Source resolves a package reference to a Package.
type Source interface {
	Open(ctx context.Context, ref string) (*Package, error)
}

// LocalSource reads packages from the local filesystem.
type LocalSource struct{}

// Open accepts either a descriptor file or a directory containing one.
func (LocalSource) Open(ctx context.Context, ref string) (*Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := locate(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}

	desc, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Package{Descriptor: desc, Root: filepath.Dir(path), Path: path}, nil
}

func locate(ref string) (string, error) {
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDescriptorNotFound, ref)
		}
		return "", err
	}
	if !info.IsDir() {
		return abs, nil
	}

	for _, name := range descriptorNames {
		candidate := filepath.Join(abs, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no datapackage.json or datapackage.yaml in %s", ErrDescriptorNotFound, ref)
}

// ResourcePath resolves a resource's data file against the package root.
// Remote URLs, absolute paths and paths climbing out of the root are rejected.
func (p *Package) ResourcePath(r ResourceSpec) (string, error) {
	if r.Path == "" {
		return "", fmt.Errorf("resource %q has no path", r.DisplayName())
	}
	if strings.Contains(r.Path, "://") {
		return "", fmt.Errorf("%w: remote path %q is not supported", ErrUnsafePath, r.Path)
	}

	rel := filepath.FromSlash(r.Path)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, r.Path)
	}

	full := filepath.Join(p.Root, rel)
	within, err := filepath.Rel(p.Root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, r.Path)
	}
	return full, nil
}

// OpenResource opens a resource's data file for streaming.
func (p *Package) OpenResource(r ResourceSpec) (io.ReadCloser, int64, error) {
	path, err := p.ResourcePath(r)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, size, nil
}
