package imageref

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name, registry string
		expected       Reference
	}{
		// Docker Hub official images.
		{"hello-world", "",
			Reference{DockerHub, "library/hello-world", "latest"}},
		{"nginx:1.25", "",
			Reference{DockerHub, "library/nginx", "1.25"}},
		{"nginx:latest", "",
			Reference{DockerHub, "library/nginx", "latest"}},

		// Docker Hub user images.
		{"bitnami/redis", "",
			Reference{DockerHub, "bitnami/redis", "latest"}},
		{"bitnami/redis:7.2", "",
			Reference{DockerHub, "bitnami/redis", "7.2"}},

		// Registry in the name.
		{"myregistry.com/myimage:v2", "",
			Reference{"myregistry.com", "myimage", "v2"}},
		{"ghcr.io/owner/project/app", "",
			Reference{"ghcr.io", "owner/project/app", "latest"}},
		{"myregistry.com:5000/team/app:1.0", "",
			Reference{"myregistry.com:5000", "team/app", "1.0"}},
		{"docker.io/nginx", "",
			Reference{"docker.io", "nginx", "latest"}},

		// Bare host:port, no image path.
		{"myregistry.com:5000", "",
			Reference{"myregistry.com:5000", "", "latest"}},

		// A dot in a single segment without a port is not a registry.
		{"my.image", "",
			Reference{DockerHub, "library/my.image", "latest"}},

		// Explicit registry.
		{"hello-world", "docker.m.daocloud.io",
			Reference{"docker.m.daocloud.io", "hello-world", "latest"}},
		{"hello-world", "https://docker.m.daocloud.io",
			Reference{"docker.m.daocloud.io", "hello-world", "latest"}},
		{"team/app:2", "http://localhost:5000",
			Reference{"localhost:5000", "team/app", "2"}},
		{"nginx", "registry-1.docker.io",
			Reference{DockerHub, "library/nginx", "latest"}},
		{"nginx", "https://registry-1.docker.io",
			Reference{DockerHub, "library/nginx", "latest"}},

		// The override wins, even if the name has a registry-looking part.
		{"other.com/app", "mine.com",
			Reference{"mine.com", "other.com/app", "latest"}},

		// Only the first ':' separates the tag.
		{"app:a:b", "mine.com",
			Reference{"mine.com", "app", "a:b"}},

		// Degenerate inputs do not fail.
		{"", "",
			Reference{DockerHub, "library/", "latest"}},
		{"nginx:", "",
			Reference{DockerHub, "library/nginx", ""}},
	}

	for _, c := range cases {
		got := Parse(c.name, c.registry)
		if got != c.expected {
			t.Errorf("Parse(%q, %q) = %+v, expected %+v",
				c.name, c.registry, got, c.expected)
		}
	}
}

func TestNoSchemeInRegistry(t *testing.T) {
	for _, name := range []string{
		"https://myregistry.com/app", "http://myregistry.com/app", "app"} {
		for _, reg := range []string{"", "https://a.com", "http://a.com"} {
			r := Parse(name, reg)
			if len(r.Registry) >= 7 && (r.Registry[:7] == "http://" ||
				(len(r.Registry) >= 8 && r.Registry[:8] == "https://")) {
				t.Errorf("Parse(%q, %q): registry has a scheme: %q",
					name, reg, r.Registry)
			}
		}
	}
}

func TestIsDockerHub(t *testing.T) {
	hub := []string{
		"registry-1.docker.io",
		"docker.io",
		"index.docker.io",
		"docker.m.daocloud.io",
		"daocloud.io",
	}
	for _, r := range hub {
		if !IsDockerHub(r) {
			t.Errorf("%q: expected to be Docker Hub", r)
		}
	}

	notHub := []string{
		"ghcr.io",
		"quay.io",
		"myregistry.com",
		"localhost:5000",
		// Known limitation: mirrors not in the list are not detected.
		"mirror.gcr.io",
		"docker.io:443",
	}
	for _, r := range notHub {
		if IsDockerHub(r) {
			t.Errorf("%q: expected not to be Docker Hub", r)
		}
	}
}

func TestString(t *testing.T) {
	r := Parse("nginx:1.25", "")
	if s := r.String(); s != "registry-1.docker.io/library/nginx:1.25" {
		t.Errorf("unexpected string: %q", s)
	}
}
