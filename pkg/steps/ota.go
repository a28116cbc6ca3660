package steps

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

const appcastTemplate = `<?xml version="1.0" encoding="utf-8"?>
<rss xmlns:sparkle="http://www.andymatuschak.org/xml-namespaces/sparkle" version="2.0">
  <channel>
    <title>{{ .Title | html }}</title>
    <link>{{ .AppcastURL | html }}</link>
    <language>en</language>
    <item>
      <title>Version {{ .ShortVersion }}</title>
      <sparkle:version>{{ .Version }}</sparkle:version>
      <sparkle:shortVersionString>{{ .ShortVersion }}</sparkle:shortVersionString>
      <pubDate>{{ dateInZone "Mon, 02 Jan 2006 15:04:05 -0700" .PubDate "UTC" }}</pubDate>
{{- if .MinSystemVersion }}
      <sparkle:minimumSystemVersion>{{ .MinSystemVersion }}</sparkle:minimumSystemVersion>
{{- end }}
{{- range .Enclosures }}
      <enclosure
        url="{{ .URL | html }}"
        sparkle:os="{{ .OS }}"
        sparkle:arch="{{ .Arch }}"
        sparkle:edSignature="{{ .Signature }}"
        length="{{ .Length }}"
        type="{{ .Type }}"/>
{{- end }}
    </item>
  </channel>
</rss>
`

var (
	signaturePattern    = regexp.MustCompile(`sparkle:edSignature="([^"]+)"`)
	lengthPattern       = regexp.MustCompile(`length="(\d+)"`)
	shortVersionPattern = regexp.MustCompile(`<sparkle:shortVersionString>([^<]+)</sparkle:shortVersionString>`)
)

// Enclosure is one downloadable file of an appcast item.
type Enclosure struct {
	URL       string
	OS        string
	Arch      string
	Signature string
	Length    int64
	Type      string
}

// ParseSignUpdateOutput extracts the signature and length printed by
// Sparkle's sign_update.
func ParseSignUpdateOutput(output string) (string, int64, error) {
	sig := signaturePattern.FindStringSubmatch(output)
	length := lengthPattern.FindStringSubmatch(output)
	if sig == nil || length == nil {
		return "", 0, fmt.Errorf("unexpected sign_update output: %q", strings.TrimSpace(output))
	}
	n, err := strconv.ParseInt(length[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing length: %w", err)
	}
	return sig[1], n, nil
}

type otaAppcastStep struct{ base }

func newOTAAppcast(tools *Toolbox) Step {
	return &otaAppcastStep{base{tools: tools, def: Definition{
		Name:        "ota-appcast",
		Phase:       PhasePublish,
		Order:       70,
		Description: "Sign packages with Sparkle and write the update appcast",
		Requires:    []string{"package"},
		Provides:    []string{"appcast"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

// signUpdatePath finds sign_update: SPARKLE_SIGN_UPDATE_PATH, then the copy
// bundled in the chromium checkout.
func signUpdatePath(p buildctx.Params) string {
	if path := p.Getenv("SPARKLE_SIGN_UPDATE_PATH"); path != "" {
		return path
	}
	return filepath.Join(p.ChromiumSrc, "third_party", "sparkle", "bin", "sign_update")
}

func (s *otaAppcastStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	if p.Getenv("SPARKLE_PRIVATE_KEY") == "" {
		return validationf("SPARKLE_PRIVATE_KEY not set")
	}
	if tool := signUpdatePath(p); !exists(tool) {
		return validationf("sign_update not found: %s (set SPARKLE_SIGN_UPDATE_PATH)", tool)
	}
	if pkg := artifactString(a, "package"); pkg == "" || !exists(pkg) {
		return validationf("package artifact missing or not on disk: %q", pkg)
	}
	if _, err := buildctx.LoadProductVersion(p.RootDir); err != nil {
		return validationf("product version not available: %v", err)
	}
	return nil
}

// Execute signs every upload file, renders the appcast for channel and
// writes it to output. A version lower than the one already in output is
// refused unless allow_downgrade is set.
func (s *otaAppcastStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	baseURL := strings.TrimSuffix(cfg.String("base_url", p.Getenv("OTA_BASE_URL")), "/")
	if baseURL == "" {
		return Failed("no download base_url configured (set base_url or OTA_BASE_URL)"), nil
	}

	channel := cfg.String("channel", "prod")
	if channel != "prod" && channel != "alpha" {
		return Failed("invalid channel %q (valid: alpha, prod)", channel), nil
	}

	version, err := buildctx.LoadProductVersion(p.RootDir)
	if err != nil {
		return nil, err
	}
	short, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", version.Major, version.Minor, version.Build))
	if err != nil {
		return nil, fmt.Errorf("product version: %w", err)
	}

	minSystem := cfg.String("min_system_version", "")
	if minSystem != "" {
		if _, err := semver.NewVersion(minSystem); err != nil {
			return Failed("invalid min_system_version %q: %v", minSystem, err), nil
		}
	}

	output := appcastPath(p, cfg, channel)
	if prev, ok := previousVersion(output); ok && short.LessThan(prev) && !cfg.Bool("allow_downgrade", false) {
		return Failed("appcast %s already lists %s, refusing to publish older %s", output, prev, short), nil
	}

	files, err := uploadFiles(p, a, cfg)
	if err != nil {
		return nil, err
	}
	prefix, err := uploadPrefix(p, cfg)
	if err != nil {
		return nil, err
	}

	keyFile, cleanup, err := writeSparkleKey(p.Getenv("SPARKLE_PRIVATE_KEY"))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	enclosures := make([]Enclosure, 0, len(files))
	for _, f := range files {
		res, err := s.tools.run(ctx, p, a, signUpdatePath(p), "--ed-key-file", keyFile, f)
		if err != nil {
			return Failed("sign_update %s: %v", filepath.Base(f), err), nil
		}
		sig, length, err := ParseSignUpdateOutput(res.Stdout)
		if err != nil {
			return Failed("signing %s: %v", filepath.Base(f), err), nil
		}
		enclosures = append(enclosures, Enclosure{
			URL:       baseURL + "/" + objectKey(prefix, f),
			OS:        string(p.Platform),
			Arch:      sparkleArch(p.Arch),
			Signature: sig,
			Length:    length,
			Type:      enclosureType(f),
		})
	}

	xml, err := renderTemplate("appcast", appcastTemplate, map[string]any{
		"Title":            cfg.String("title", cfg.String("product_name", "Chromium")+" Updates"),
		"AppcastURL":       baseURL + "/" + filepath.Base(output),
		"Version":          version.String(),
		"ShortVersion":     short.String(),
		"PubDate":          s.tools.Now(),
		"MinSystemVersion": minSystem,
		"Enclosures":       enclosures,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return nil, fmt.Errorf("creating appcast directory: %w", err)
	}
	if err := os.WriteFile(output, []byte(xml), 0o600); err != nil {
		return nil, fmt.Errorf("writing appcast: %w", err)
	}

	slog.Info("appcast written", "step", s.def.Name, "path", output, "channel", channel, "enclosures", len(enclosures))
	return Succeeded("appcast written").
		With("appcast", output).
		WithMeta("appcast_version", short.String()), nil
}

func appcastPath(p buildctx.Params, cfg Config, channel string) string {
	name := "appcast.xml"
	if channel == "alpha" {
		name = "appcast.alpha.xml"
	}
	path := cfg.String("output", filepath.Join(p.ConfigDir(), "appcast", name))
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.RootDir, path)
	}
	return path
}

func previousVersion(path string) (*semver.Version, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	m := shortVersionPattern.FindSubmatch(data)
	if m == nil {
		return nil, false
	}
	v, err := semver.NewVersion(strings.TrimSpace(string(m[1])))
	if err != nil {
		return nil, false
	}
	return v, true
}

// writeSparkleKey writes the private key to a temporary file. The key may
// be given base64 encoded.
func writeSparkleKey(key string) (string, func(), error) {
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil {
		key = string(decoded)
	}
	f, err := os.CreateTemp("", "sparkle-*.key")
	if err != nil {
		return "", nil, fmt.Errorf("creating key file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(key); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing key file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func sparkleArch(arch buildctx.Arch) string {
	if arch == buildctx.X64 {
		return "x86_64"
	}
	return string(arch)
}

func enclosureType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dmg":
		return "application/x-apple-diskimage"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}
