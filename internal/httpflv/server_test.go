package httpflv

import "testing"

func TestParsePath(t *testing.T) {
	cases := []struct {
		path                      string
		app, stream, ext string
		ok                        bool
	}{
		{"/live/test.flv", "live", "test", "flv", true},
		{"/live/test.ts", "live", "test", "ts", true},
		{"/live/test", "", "", "", false},
		{"/test.flv", "", "", "", false},
		{"/live/a/b.flv", "", "", "", false},
	}
	for _, c := range cases {
		app, stream, ext, ok := parsePath(c.path)
		if ok != c.ok || app != c.app || stream != c.stream || ext != c.ext {
			t.Fatalf("parsePath(%q) = (%q,%q,%q,%v), want (%q,%q,%q,%v)",
				c.path, app, stream, ext, ok, c.app, c.stream, c.ext, c.ok)
		}
	}
}
