package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ComputeRequest is one simulator invocation. Empty fields are left out of
// the argument list so the simulator's own defaults apply.
type ComputeRequest struct {
	Gas1     string `json:"gas1,omitempty"`
	Gas2     string `json:"gas2,omitempty"`
	Gas3     string `json:"gas3,omitempty"`
	Mixt1    string `json:"mixt1,omitempty"`
	Mixt2    string `json:"mixt2,omitempty"`
	Thirt1   string `json:"thirt1,omitempty"`
	Thirt2   string `json:"thirt2,omitempty"`
	Ticks    string `json:"ticks,omitempty"`
	DoRetest bool   `json:"doretest"`
}

type requestArg struct {
	flag    string
	value   string
	numeric bool
}

func (r ComputeRequest) args() []requestArg {
	return []requestArg{
		{"gas1", r.Gas1, false},
		{"gas2", r.Gas2, false},
		{"gas3", r.Gas3, false},
		{"mixt1", r.Mixt1, true},
		{"mixt2", r.Mixt2, true},
		{"thirt1", r.Thirt1, true},
		{"thirt2", r.Thirt2, true},
		{"ticks", r.Ticks, true},
	}
}

// Args marshals the request into simulator command-line arguments.
func (r ComputeRequest) Args() []string {
	out := make([]string, 0, 18)
	for _, a := range r.args() {
		v := strings.TrimSpace(a.value)
		if v == "" {
			continue
		}
		out = append(out, "--"+a.flag, v)
	}
	return append(out, "--doretest", YesNo(r.DoRetest))
}

// Validate rejects numeric targets that are not numbers and gas names that
// would be split into separate arguments.
func (r ComputeRequest) Validate() error {
	var errs []error
	for _, a := range r.args() {
		v := strings.TrimSpace(a.value)
		if v == "" {
			continue
		}
		if a.numeric {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", a.flag, v))
			}
			continue
		}
		if strings.ContainsAny(v, " \t\r\n") {
			errs = append(errs, fmt.Errorf("%s: %q contains whitespace", a.flag, v))
		}
	}
	return errors.Join(errs...)
}

// WithDefaults fills empty fields from d.
func (r ComputeRequest) WithDefaults(d ComputeRequest) ComputeRequest {
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&r.Gas1, d.Gas1)
	fill(&r.Gas2, d.Gas2)
	fill(&r.Gas3, d.Gas3)
	fill(&r.Mixt1, d.Mixt1)
	fill(&r.Mixt2, d.Mixt2)
	fill(&r.Thirt1, d.Thirt1)
	fill(&r.Thirt2, d.Thirt2)
	fill(&r.Ticks, d.Ticks)
	return r
}

// YesNo renders the simulator's boolean flag value.
func YesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// ParseYesNo accepts "y"/"n" (and "yes"/"no", "true"/"false").
func ParseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true":
		return true, nil
	case "", "n", "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("doretest: %q is not y or n", s)
}
