package execution

import (
	"fmt"
	"slices"
	"strings"
)

// Validate reports whether r can be handed to the operating system.
func (r Request) Validate() error {
	if len(r.Command) == 0 || r.Command[0] == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidRequest)
	}
	for i, arg := range r.Command {
		if strings.IndexByte(arg, 0) >= 0 {
			return fmt.Errorf("%w: argument %d contains NUL", ErrInvalidRequest, i)
		}
	}
	for k, v := range r.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("%w: invalid environment name %q", ErrInvalidRequest, k)
		}
		if strings.IndexByte(v, 0) >= 0 {
			return fmt.Errorf("%w: environment value for %q contains NUL", ErrInvalidRequest, k)
		}
	}
	if r.Data != nil && strings.IndexByte(*r.Data, 0) >= 0 {
		return fmt.Errorf("%w: data contains NUL", ErrInvalidRequest)
	}
	return nil
}

// BuildEnv returns the child environment for req: base entries not
// overridden by req, then req.Env in name order. The data variable is always
// agent-controlled: it is taken from req.Data when set and otherwise absent,
// regardless of what base or req.Env contain. Neither base nor the process
// environment is modified.
func BuildEnv(base []string, req Request, dataVar string) []string {
	overrides := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		if k == dataVar {
			continue
		}
		overrides[k] = v
	}
	if req.Data != nil {
		overrides[dataVar] = *req.Data
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || k == dataVar {
			continue
		}
		if _, replaced := overrides[k]; replaced {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
