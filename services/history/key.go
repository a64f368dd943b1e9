package history

import (
	"fmt"
	"strings"

	"qbenchsim/services/errs"
)

// History kinds: executions of the circuit itself or of its mirror circuit.
const (
	KindCircuit = "circuit"
	KindMirror  = "mirror"
)

// Key identifies one history file and one cursor slot.
type Key struct {
	Algorithm string `json:"algorithm"`
	Size      int    `json:"size"`
	Backend   string `json:"backend"`
	Mirror    bool   `json:"mirror"`
}

// Kind returns the history folder the key lives in.
func (k Key) Kind() string {
	if k.Mirror {
		return KindMirror
	}
	return KindCircuit
}

// Stem is the file name without extension: <algorithm>_<size>_<backend>.
func (k Key) Stem() string {
	return fmt.Sprintf("%s_%d_%s", k.Algorithm, k.Size, k.Backend)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s (%s)", k.Algorithm, k.Size, k.Backend, k.Kind())
}

// Validate rejects keys that cannot name a history file.
func (k Key) Validate() error {
	switch {
	case k.Algorithm == "":
		return errs.New(errs.CodeInvalidArgument, "algorithm must not be empty")
	case k.Backend == "":
		return errs.New(errs.CodeInvalidArgument, "backend must not be empty")
	case k.Size < 0:
		return errs.New(errs.CodeInvalidArgument, "size must be >= 0, got %d", k.Size)
	}
	for _, part := range []string{k.Algorithm, k.Backend} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return errs.New(errs.CodeInvalidArgument, "invalid path component %q", part)
		}
	}
	return nil
}
