package execution

import (
	"errors"
	"reflect"
	"testing"
)

func TestBuildEnv(t *testing.T) {
	data := "payload"
	empty := ""
	tests := []struct {
		name string
		base []string
		req  Request
		want []string
	}{
		{
			name: "inherit only",
			base: []string{"PATH=/bin", "HOME=/root"},
			want: []string{"PATH=/bin", "HOME=/root"},
		},
		{
			name: "override keeps base order for the rest",
			base: []string{"PATH=/bin", "HOME=/root", "LANG=C"},
			req:  Request{Env: map[string]string{"HOME": "/work", "NEW": "1"}},
			want: []string{"PATH=/bin", "LANG=C", "HOME=/work", "NEW=1"},
		},
		{
			name: "data set",
			base: []string{"PATH=/bin"},
			req:  Request{Data: &data},
			want: []string{"PATH=/bin", "DATA=payload"},
		},
		{
			name: "empty data is still set",
			base: []string{"PATH=/bin"},
			req:  Request{Data: &empty},
			want: []string{"PATH=/bin", "DATA="},
		},
		{
			name: "data var stripped from base",
			base: []string{"DATA=stale", "PATH=/bin"},
			want: []string{"PATH=/bin"},
		},
		{
			name: "data var in env ignored",
			base: []string{"PATH=/bin"},
			req:  Request{Env: map[string]string{"DATA": "caller"}, Data: &data},
			want: []string{"PATH=/bin", "DATA=payload"},
		},
		{
			name: "malformed base entries dropped",
			base: []string{"NOEQUALS", "PATH=/bin"},
			want: []string{"PATH=/bin"},
		},
		{
			name: "values keep equals signs",
			req:  Request{Env: map[string]string{"Q": "a=b=c"}},
			want: []string{"Q=a=b=c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildEnv(tt.base, tt.req, DefaultDataVar)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildEnv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildEnvDoesNotMutateBase(t *testing.T) {
	base := []string{"PATH=/bin", "DATA=x"}
	BuildEnv(base, Request{Env: map[string]string{"PATH": "/usr/bin"}}, DefaultDataVar)
	if !reflect.DeepEqual(base, []string{"PATH=/bin", "DATA=x"}) {
		t.Errorf("base mutated: %q", base)
	}
}

func TestRequestValidate(t *testing.T) {
	nul := "a\x00b"
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"ok", Request{Command: []string{"echo", "hi"}}, false},
		{"empty args allowed", Request{Command: []string{"echo", ""}}, false},
		{"nil command", Request{}, true},
		{"empty program", Request{Command: []string{""}}, true},
		{"nul in arg", Request{Command: []string{"echo", nul}}, true},
		{"empty env name", Request{Command: []string{"env"}, Env: map[string]string{"": "x"}}, true},
		{"equals in env name", Request{Command: []string{"env"}, Env: map[string]string{"A=B": "x"}}, true},
		{"nul in env value", Request{Command: []string{"env"}, Env: map[string]string{"A": nul}}, true},
		{"nul in data", Request{Command: []string{"env"}, Data: &nul}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestResultText(t *testing.T) {
	r := Result{Stdout: []byte("héllo"), Stderr: []byte{0xc3}}
	if s, err := r.StdoutText(); err != nil || s != "héllo" {
		t.Errorf("StdoutText = %q, %v", s, err)
	}
	if _, err := r.StderrText(); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("StderrText err = %v, want ErrInvalidUTF8", err)
	}
}
