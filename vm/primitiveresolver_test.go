package vm

import "testing"

func TestSplitPrimitiveAddress(t *testing.T) {
	cases := []struct {
		in         string
		target     string
		fullMethod string
		ok         bool
	}{
		{"grpc:localhost:9090/pkg.Service.Method", "localhost:9090", "pkg.Service.Method", true},
		{"grpc:svc.internal:443/a.b.C.Do", "svc.internal:443", "a.b.C.Do", true},
		{"not-grpc:foo/bar", "", "", false},
		{"grpc:no-slash-here", "", "", false},
	}
	for _, c := range cases {
		target, fullMethod, ok := splitPrimitiveAddress(c.in)
		if ok != c.ok || target != c.target || fullMethod != c.fullMethod {
			t.Errorf("splitPrimitiveAddress(%q) = %q, %q, %v, want %q, %q, %v",
				c.in, target, fullMethod, ok, c.target, c.fullMethod, c.ok)
		}
	}
}

func TestGrpcPrimitiveResolverRejectsNonGrpcPrimitive(t *testing.T) {
	env, _ := newTestEnv()
	code := NewCompiledCode(env, "m", "f.mag", "X", nil, nil, nil, 0, 0, false, 1, "builtin:noop", nil)

	r := NewGrpcPrimitiveResolver(nil)
	if _, ok := r.ResolvePrimitive(code); ok {
		t.Fatalf("a non-grpc primitive address should not resolve")
	}
}
