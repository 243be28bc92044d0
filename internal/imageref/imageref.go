// Package imageref parses container image names into the registry,
// repository and tag they refer to.
//
// The rules follow what Docker does for the common cases: names without a
// registry host go to Docker Hub, and single-segment Docker Hub names are
// official images living under "library/".
// Parsing is lenient: malformed names produce a best-effort Reference
// rather than an error, and the registry will tell us if it is wrong.
package imageref

import "strings"

// DockerHub is the registry host used when none is given.
const DockerHub = "registry-1.docker.io"

// DefaultTag is used when the name does not include one.
const DefaultTag = "latest"

// Reference to an image in a registry.
type Reference struct {
	// Registry host name, possibly with a port. Never has a scheme.
	Registry string

	// Repository path, segments joined by '/'.
	Repository string

	Tag string
}

// Parse the given image name. If registry is not empty, it is used as the
// registry instead of looking for one in the name.
func Parse(name, registry string) Reference {
	if registry == "" {
		registry, name = splitRegistry(name)
	}

	registry = strings.TrimPrefix(registry, "https://")
	registry = strings.TrimPrefix(registry, "http://")

	ref := Reference{
		Registry:   registry,
		Repository: name,
		Tag:        DefaultTag,
	}
	if i := strings.Index(name, ":"); i >= 0 {
		ref.Repository = name[:i]
		ref.Tag = name[i+1:]
	}

	if ref.Registry == DockerHub && !strings.Contains(ref.Repository, "/") {
		ref.Repository = "library/" + ref.Repository
	}

	return ref
}

// splitRegistry finds the registry host in the name, if there is one, and
// returns it along with the rest of the name.
// The first segment is taken as a host if it has a dot in it; it's the same
// heuristic docker uses, minus the "localhost" special case.
func splitRegistry(name string) (string, string) {
	parts := strings.Split(name, "/")
	first := parts[0]

	switch {
	case strings.Contains(first, ".") && len(parts) > 1:
		return first, strings.Join(parts[1:], "/")
	case strings.Contains(first, ".") && strings.Contains(first, ":"):
		// A bare "host:port", with no image path.
		return first, ""
	default:
		return DockerHub, name
	}
}

// IsDockerHub tells if the registry is Docker Hub, or one of its known
// mirrors. These use Docker Hub's token service for authentication.
//
// This is a simple string match, so other Docker Hub mirrors will not be
// detected.
func IsDockerHub(registry string) bool {
	return registry == DockerHub ||
		strings.HasSuffix(registry, "docker.io") ||
		strings.Contains(registry, "daocloud.io")
}

// String returns the reference in "registry/repository:tag" form.
func (r Reference) String() string {
	return r.Registry + "/" + r.Repository + ":" + r.Tag
}
