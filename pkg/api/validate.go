package api

import (
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/errs"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the document for errors that do not depend on the step
// registry or the build context.
func (d *Document) Validate() error {
	if d.Version == nil {
		slog.Warn("config missing version field, assuming 1")
	}

	if err := d.PipelineBody.validate(); err != nil {
		return err
	}
	for _, p := range d.Pipelines {
		if err := p.Body.validate(); err != nil {
			return errs.Configurationf("pipeline %q: %s", p.Name, configReason(err))
		}
	}

	if d.Build.Arch != "" && d.Build.Architecture != "" && d.Build.Arch != d.Build.Architecture {
		return errs.Configurationf("build.arch %q and build.architecture %q disagree", d.Build.Arch, d.Build.Architecture)
	}
	return nil
}

func (b *PipelineBody) validate() error {
	if len(b.Steps) > 0 && len(b.Modules) > 0 {
		return errs.Configurationf("both steps and modules are set; use one")
	}

	for i, ref := range b.StepList() {
		if strings.TrimSpace(ref.Name) == "" {
			return errs.Configurationf("step %d: name is required", i)
		}
	}

	for key := range b.Env {
		if !envNamePattern.MatchString(key) {
			return errs.Configurationf("env: invalid variable name %q", key)
		}
	}

	for i, name := range b.RequiredEnvs {
		if !envNamePattern.MatchString(name) {
			return errs.Configurationf("required_envs[%d]: invalid variable name %q", i, name)
		}
	}
	return nil
}

// CheckRequiredEnvs verifies every variable in required_envs is present,
// either in the body's own env block or through lookup.
func (b *PipelineBody) CheckRequiredEnvs(lookup LookupFunc) error {
	if lookup == nil {
		lookup = OSLookup
	}

	var missing []string
	for _, name := range b.RequiredEnvs {
		if _, ok := b.Env[name]; ok {
			continue
		}
		if _, ok := lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errs.Configurationf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func configReason(err error) string {
	var cfgErr *errs.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Reason
	}
	return err.Error()
}
