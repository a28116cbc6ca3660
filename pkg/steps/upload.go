package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

const defaultUploadPrefix = "{{ .Version }}/{{ .Platform }}"

// uploadFiles collects what to upload: the package artifact plus files in
// the dist directory matching the files globs.
func uploadFiles(p buildctx.Params, a buildctx.Artifacts, cfg Config) ([]string, error) {
	var files []string
	if pkg := artifactString(a, "package"); pkg != "" {
		files = append(files, pkg)
	}

	if patterns := cfg.Strings("files"); len(patterns) > 0 && exists(p.DistDir()) {
		matches, err := filterFiles(os.DirFS(p.DistDir()), patterns, cfg.Strings("exclude"))
		if err != nil {
			return nil, fmt.Errorf("collecting upload files: %w", err)
		}
		for _, m := range matches {
			files = append(files, filepath.Join(p.DistDir(), m))
		}
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

// uploadPrefix renders the prefix template, sprig functions included.
func uploadPrefix(p buildctx.Params, cfg Config) (string, error) {
	data := map[string]any{
		"Platform":  string(p.Platform),
		"Arch":      string(p.Arch),
		"BuildType": string(p.BuildType),
		"Version":   "",
	}
	if v, err := buildctx.LoadProductVersion(p.RootDir); err == nil {
		data["Version"] = v.String()
	}
	prefix, err := renderTemplate("prefix", cfg.String("prefix", defaultUploadPrefix), data)
	if err != nil {
		return "", fmt.Errorf("rendering upload prefix: %w", err)
	}
	return path.Clean("/" + prefix)[1:], nil
}

func objectKey(prefix, file string) string {
	if prefix == "" {
		return filepath.Base(file)
	}
	return prefix + "/" + filepath.Base(file)
}

type uploadGCSStep struct{ base }

func newUploadGCS(tools *Toolbox) Step {
	return &uploadGCSStep{base{tools: tools, def: Definition{
		Name:        "upload-gcs",
		Phase:       PhasePublish,
		Order:       60,
		Description: "Upload packages to Google Cloud Storage",
		Provides:    []string{"gcs_uris"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

func gcsBucket(p buildctx.Params, cfg Config) string {
	return cfg.String("bucket", p.Getenv("GCS_BUCKET"))
}

func (s *uploadGCSStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	return s.tools.requireTool("gcloud")
}

func (s *uploadGCSStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	bucket := gcsBucket(p, cfg)
	if bucket == "" {
		return Failed("no bucket configured (set bucket or GCS_BUCKET)"), nil
	}

	files, err := uploadFiles(p, a, cfg)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return Failed("nothing to upload"), nil
	}

	prefix, err := uploadPrefix(p, cfg)
	if err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(files))
	for _, f := range files {
		uri := fmt.Sprintf("gs://%s/%s", bucket, objectKey(prefix, f))
		slog.Info("uploading", "step", s.def.Name, "file", f, "uri", uri)
		if _, err := s.tools.runIn(ctx, p, a, p.DistDir(), "gcloud", "storage", "cp", f, uri); err != nil {
			return Failed("uploading %s: %v", filepath.Base(f), err), nil
		}
		uris = append(uris, uri)
	}

	return Succeeded(fmt.Sprintf("%d files uploaded", len(uris))).With("gcs_uris", uris), nil
}

type uploadR2Step struct{ base }

func newUploadR2(tools *Toolbox) Step {
	return &uploadR2Step{base{tools: tools, def: Definition{
		Name:        "upload-r2",
		Phase:       PhasePublish,
		Order:       61,
		Description: "Upload packages to Cloudflare R2",
		Provides:    []string{"r2_uris"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

// r2Config reads the bucket location from the step config, falling back to
// R2_ENDPOINT (or R2_ACCOUNT_ID), R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and
// R2_BUCKET.
func r2Config(p buildctx.Params, cfg Config) StoreConfig {
	endpoint := cfg.String("endpoint", p.Getenv("R2_ENDPOINT"))
	if endpoint == "" {
		if account := p.Getenv("R2_ACCOUNT_ID"); account != "" {
			endpoint = account + ".r2.cloudflarestorage.com"
		}
	}
	return StoreConfig{
		Endpoint:  endpoint,
		AccessKey: p.Getenv("R2_ACCESS_KEY_ID"),
		SecretKey: p.Getenv("R2_SECRET_ACCESS_KEY"),
		Bucket:    cfg.String("bucket", p.Getenv("R2_BUCKET")),
		Secure:    cfg.Bool("secure", true),
	}
}

func (s *uploadR2Step) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	sc := r2Config(p, nil)
	var missing []string
	if sc.AccessKey == "" {
		missing = append(missing, "R2_ACCESS_KEY_ID")
	}
	if sc.SecretKey == "" {
		missing = append(missing, "R2_SECRET_ACCESS_KEY")
	}
	if len(missing) > 0 {
		return validationf("R2 credentials not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *uploadR2Step) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	sc := r2Config(p, cfg)
	if sc.Endpoint == "" {
		return Failed("no endpoint configured (set endpoint, R2_ENDPOINT or R2_ACCOUNT_ID)"), nil
	}
	if sc.Bucket == "" {
		return Failed("no bucket configured (set bucket or R2_BUCKET)"), nil
	}

	files, err := uploadFiles(p, a, cfg)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return Failed("nothing to upload"), nil
	}

	prefix, err := uploadPrefix(p, cfg)
	if err != nil {
		return nil, err
	}

	store, err := s.tools.OpenStore(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("connecting to R2: %w", err)
	}

	uris := make([]string, 0, len(files))
	for _, f := range files {
		key := objectKey(prefix, f)
		slog.Info("uploading", "step", s.def.Name, "file", f, "key", key)
		uri, err := store.Upload(ctx, key, f)
		if err != nil {
			return Failed("uploading %s: %v", filepath.Base(f), err), nil
		}
		uris = append(uris, uri)
	}

	return Succeeded(fmt.Sprintf("%d files uploaded", len(uris))).With("r2_uris", uris), nil
}
