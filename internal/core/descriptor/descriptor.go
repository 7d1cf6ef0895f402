// Package descriptor recognizes and validates build descriptors in a
// synchronized working tree. A deployment needs exactly one recognized
// descriptor: either a single-image build file or a multi-service compose
// file. Detection runs against an fs.FS so it stays trivially testable.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Descriptor Errors
// =============================================================================

var (
	ErrNoDescriptor   = errors.New("no recognized build descriptor (Dockerfile or compose file) in repository root")
	ErrComposeInvalid = errors.New("invalid compose file")
)

// =============================================================================
// Descriptor Kinds
// =============================================================================

// Kind identifies which build path the deployer takes.
type Kind string

const (
	// KindDockerfile builds one image and runs one container.
	KindDockerfile Kind = "dockerfile"

	// KindCompose delegates build and startup to the compose plugin.
	KindCompose Kind = "compose"
)

// Descriptor is the recognized build descriptor of a working tree.
type Descriptor struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path"` // relative to the repository root

	// Services holds the compose service names, sorted. Empty for
	// single-image builds.
	Services []string `json:"services,omitempty"`
}

// composeNames are checked in the order compose itself documents, the
// preferred modern spelling first.
var composeNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

var dockerfileNames = []string{
	"Dockerfile",
	"dockerfile",
	"Containerfile",
}

// =============================================================================
// Detection
// =============================================================================

// Detect scans the root of a working tree for a build descriptor. A compose
// file takes precedence over a Dockerfile: when both exist the Dockerfile is
// usually a build context referenced from the compose file. A present but
// invalid compose file is an error, not a fallthrough, so a typo never
// silently demotes a multi-service app to a single container.
func Detect(fsys fs.FS) (*Descriptor, error) {
	for _, name := range composeNames {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			continue
		}
		services, err := ParseCompose(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &Descriptor{Kind: KindCompose, Path: name, Services: services}, nil
	}

	for _, name := range dockerfileNames {
		info, err := fs.Stat(fsys, name)
		if err == nil && info.Mode().IsRegular() {
			return &Descriptor{Kind: KindDockerfile, Path: name}, nil
		}
	}

	return nil, ErrNoDescriptor
}

// =============================================================================
// Compose Validation
// =============================================================================

// ParseCompose validates compose YAML and returns the sorted service names.
// Pure function: content in, names or error out.
func ParseCompose(content []byte) ([]string, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeInvalid, err)
	}
	if dict == nil {
		return nil, fmt.Errorf("%w: empty document", ErrComposeInvalid)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{Content: content, Config: dict},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stevedore-app", false)
		// Paths stay unresolved: the tree is built remotely, not here.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeInvalid, err)
	}

	if len(project.Services) == 0 {
		return nil, fmt.Errorf("%w: no services defined", ErrComposeInvalid)
	}

	names := make([]string, 0, len(project.Services))
	for name, svc := range project.Services {
		if svc.Image == "" && svc.Build == nil {
			return nil, fmt.Errorf("%w: service %q has neither image nor build", ErrComposeInvalid, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
