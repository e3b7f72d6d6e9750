package graph

import (
	"testing"

	"github.com/danmuck/rosclient/internal/master"
)

func TestNameResolverResolve(t *testing.T) {
	r := NewNameResolver("/robot", Remappings{
		"save_map":         "map_saver/save",
		"/robot/syscmd":    "/syscommand",
		"/robot/initial":   "initialpose",
		"~private_remaped": "/elsewhere",
	})
	cases := map[string]string{
		"dashboard":      "/robot/dashboard",
		"/absolute":      "/absolute",
		"nested/topic/":  "/robot/nested/topic",
		"save_map":       "/robot/map_saver/save",
		"syscmd":         "/syscommand",
		"initial":        "/robot/initialpose",
		"":               "/robot",
		"../outside":     "/outside",
		"~local":         "/robot/local",
		"//double//path": "/double/path",
	}
	for in, want := range cases {
		if got := r.Resolve(in); got != want {
			t.Fatalf("Resolve(%q) = %q want %q", in, got, want)
		}
	}
}

func TestNameResolverPrivateNamesUseNode(t *testing.T) {
	r := NewNameResolver("/robot", nil).ForNode("pose_publisher")
	if got := r.Resolve("~frame"); got != "/robot/pose_publisher/frame" {
		t.Fatalf("unexpected private name: %s", got)
	}
	child := r.Child("arm")
	if child.Namespace() != "/robot/arm" {
		t.Fatalf("unexpected child namespace: %s", child.Namespace())
	}
	if got := child.Resolve("joint"); got != "/robot/arm/joint" {
		t.Fatalf("unexpected child name: %s", got)
	}
}

func TestNameResolverRootNamespace(t *testing.T) {
	r := NewNameResolver("", nil)
	if r.Namespace() != "/" {
		t.Fatalf("expected root namespace, got %q", r.Namespace())
	}
	if got := r.Resolve("diagnostics_agg"); got != "/diagnostics_agg" {
		t.Fatalf("unexpected root resolution: %s", got)
	}
}

func TestConfigWithCopies(t *testing.T) {
	remap := Remappings{"a": "b"}
	base := NewPublicConfig("", master.NewEndpoint("127.0.0.1", master.DefaultPort))
	derived := base.WithNodeName("n").WithNamespace("/ns").WithRemappings(remap)
	remap["a"] = "changed"
	if base.NodeName != "" || base.Namespace != "/" {
		t.Fatalf("base config mutated: %+v", base)
	}
	if derived.Remappings["a"] != "b" {
		t.Fatalf("remappings not copied: %+v", derived.Remappings)
	}
	if base.Host != loopbackHost {
		t.Fatalf("expected loopback default host, got %q", base.Host)
	}
}
