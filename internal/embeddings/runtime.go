package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion matches the onnxruntime_go release used by
// fastembed-go.
const DefaultONNXRuntimeVersion = "1.23.0"

// onnxReleaseURL is formatted with version, platform, version.
const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchives = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

func platformArchive(goos, goarch string) (string, error) {
	if arch, ok := platformArchives[goos][goarch]; ok {
		return arch, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func libraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

func docuchatDir(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(append([]string{home}, parts...)...)
}

func defaultModelCacheDir() string {
	return docuchatDir(".cache", "docuchat", "models")
}

// RuntimeInstaller locates or downloads the ONNX runtime shared library
// needed by the local embedding provider.
type RuntimeInstaller struct {
	// Dir is the managed install directory.
	// Default: ~/.config/docuchat/lib
	Dir string

	// Version of the runtime to download.
	Version string

	// URLTemplate overrides the release URL (tests).
	URLTemplate string

	Client *http.Client
	GOOS   string
	GOARCH string

	logger *zap.Logger
	setenv func(key, value string) error
}

// NewRuntimeInstaller returns an installer for the current platform.
func NewRuntimeInstaller(logger *zap.Logger) *RuntimeInstaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeInstaller{
		Dir:         docuchatDir(".config", "docuchat", "lib"),
		Version:     DefaultONNXRuntimeVersion,
		URLTemplate: onnxReleaseURL,
		Client:      http.DefaultClient,
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		logger:      logger,
		setenv:      os.Setenv,
	}
}

// LibraryPath returns the runtime library location, preferring the
// ONNX_PATH environment variable. It returns "" when nothing is installed.
func (r *RuntimeInstaller) LibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(r.Dir, libraryName(r.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// Ensure returns the library path, downloading the runtime first when
// it is missing. ONNX_PATH is set so fastembed-go can find the library.
func (r *RuntimeInstaller) Ensure(ctx context.Context) (string, error) {
	if p := r.LibraryPath(); p != "" {
		return p, nil
	}

	r.logger.Info("ONNX runtime not found, downloading",
		zap.String("version", r.Version),
		zap.String("platform", r.GOOS+"/"+r.GOARCH))

	if err := r.Download(ctx); err != nil {
		return "", fmt.Errorf("downloading ONNX runtime (set ONNX_PATH to use an existing install): %w", err)
	}

	p := r.LibraryPath()
	if p == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	if err := r.setenv("ONNX_PATH", p); err != nil {
		return "", fmt.Errorf("setting ONNX_PATH: %w", err)
	}
	r.logger.Info("ONNX runtime installed", zap.String("path", p))
	return p, nil
}

// Download fetches the release archive and extracts its lib directory
// into r.Dir.
func (r *RuntimeInstaller) Download(ctx context.Context) error {
	platform, err := platformArchive(r.GOOS, r.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.Dir, 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	url := fmt.Sprintf(r.URLTemplate, r.Version, platform, r.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, r.Version)
	return extractLibraries(resp.Body, r.Dir, prefix, libraryName(r.GOOS))
}

// extractLibraries copies the files under prefix in a .tgz stream into
// destDir, keeping symlinks. It fails if libName was not among them.
func extractLibraries(src io.Reader, destDir, prefix, libName string) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	found := false
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}
		filename := filepath.Base(name)
		dest := filepath.Join(destDir, filename)
		isLib := filename == libName || strings.HasPrefix(filename, libName+".")

		if header.Typeflag == tar.TypeSymlink {
			_ = os.Remove(dest)
			if err := os.Symlink(header.Linkname, dest); err == nil && isLib {
				found = true
			}
			continue
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", filename, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("writing file %s: %w", filename, err)
		}
		out.Close()
		if isLib {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}
