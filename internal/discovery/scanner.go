// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"errors"
	"fmt"
	"path"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/balloonmod"
)

// ErrUnsupportedFileType is returned for paths that are neither a directory
// nor a regular file.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Scanner reads a single mod path into a Candidate.
type Scanner struct {
	fs     *vfs.FileSystem
	parser *balloonmod.Parser
	logger *log.Logger
}

// NewScanner returns a scanner reading through fs. A nil parser uses the
// default one.
func NewScanner(fs *vfs.FileSystem, parser *balloonmod.Parser, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	if parser == nil {
		parser = balloonmod.NewParser(balloonmod.WithLogger(logger))
	}
	return &Scanner{fs: fs, parser: parser, logger: logger}
}

// ScanCandidate parses the manifest of the mod at p. A directory is read
// directly. A regular file is an archive that the caller has already
// mounted at its extension-stripped name; the returned candidate keeps
// the archive path.
func (s *Scanner) ScanCandidate(p string) (Candidate, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %s: %w", p, err)
	}
	switch {
	case info.IsDir():
		return s.scanDirectory(p)
	case info.Mode().IsRegular():
		c, err := s.scanDirectory(vfs.StripExtension(p))
		if err != nil {
			return Candidate{}, err
		}
		c.Path = vfs.Clean(p)
		return c, nil
	default:
		return Candidate{}, fmt.Errorf("%s: %w", p, ErrUnsupportedFileType)
	}
}

func (s *Scanner) scanDirectory(dir string) (Candidate, error) {
	manifest := path.Join(vfs.Clean(dir), balloonmod.ManifestFileName)
	data, err := s.fs.ReadFile(manifest)
	if err != nil {
		s.logger.Error("failed to open mod manifest", "path", manifest, "err", err)
		return Candidate{}, fmt.Errorf("read %s: %w", manifest, err)
	}
	meta, err := s.parser.ParseSource(data, manifest)
	if err != nil {
		return Candidate{}, err
	}
	return NewCandidate(vfs.Clean(dir), meta), nil
}
