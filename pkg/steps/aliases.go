package steps

import (
	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
)

// platformAliases maps a platform-generic step name to its concrete
// per-platform step.
var platformAliases = map[string]map[buildctx.Platform]string{
	"sign": {
		buildctx.MacOS:   "sign-mac",
		buildctx.Windows: "sign-windows",
		buildctx.Linux:   "sign-linux",
	},
	"package": {
		buildctx.MacOS:   "package-mac",
		buildctx.Windows: "package-windows",
		buildctx.Linux:   "package-linux",
	},
}

// IsAlias reports whether name is platform-generic.
func IsAlias(name string) bool {
	_, ok := platformAliases[name]
	return ok
}

// ResolveAlias maps a platform-generic name to the concrete step for
// platform. Names that are not aliases are returned unchanged. There is no
// fallback for a generic name without a mapping for platform.
func ResolveAlias(name string, platform buildctx.Platform) (string, error) {
	byPlatform, ok := platformAliases[name]
	if !ok {
		return name, nil
	}
	concrete, ok := byPlatform[platform]
	if !ok {
		return "", errs.Configurationf("step alias %q has no mapping for platform %q", name, platform)
	}
	return concrete, nil
}
