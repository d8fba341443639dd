// Package fingerprint derives cache fingerprints for session reuse
// decisions. A cached surface may only be reattached when the new
// request produces a byte-identical fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/embedkit/embedkit/internal/shared/types"
)

// Inputs are the values that participate in the fingerprint. Changing
// any of them invalidates cached surfaces for the identity.
type Inputs struct {
	Identity     types.SessionIdentity
	StartParam   string
	Params       map[string]string
	Locale       string
	ThemeScheme  string
	CacheAllowed bool
}

// Compute returns the hex sha256 fingerprint of the inputs. Params are
// folded in sorted key order so the result is deterministic.
func Compute(in Inputs) string {
	fields := []string{
		in.Identity.Key(),
		"start:" + in.StartParam,
		"locale:" + in.Locale,
		"theme:" + in.ThemeScheme,
		fmt.Sprintf("cache:%t", in.CacheAllowed),
	}

	keys := make([]string, 0, len(in.Params))
	for k := range in.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("param:%s=%s", k, in.Params[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// FromRequest builds fingerprint inputs from a launch request plus the
// host locale and theme scheme.
func FromRequest(req *types.LaunchRequest, locale, themeScheme string) Inputs {
	return Inputs{
		Identity:     req.Identity,
		StartParam:   req.StartParam,
		Params:       req.Params,
		Locale:       locale,
		ThemeScheme:  themeScheme,
		CacheAllowed: req.CacheAllowed,
	}
}
