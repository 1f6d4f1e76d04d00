package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

const ManifestFile = "manifest.yaml"

// Manifest describes a committed index. Its presence marks the directory
// as complete.
type Manifest struct {
	FormatVersion uint32                 `yaml:"formatVersion"`
	BuildID       string                 `yaml:"buildId"`
	CreatedAt     time.Time              `yaml:"createdAt"`
	Source        string                 `yaml:"source"`
	Segment       string                 `yaml:"segment"`
	Stats         ManifestStats          `yaml:"stats"`
	Tokenizer     config.TokenizerConfig `yaml:"tokenizer"`
	Store         docstore.Descriptor    `yaml:"store"`
	Build         BuildSummary           `yaml:"build"`
}

type ManifestStats struct {
	Documents             uint32  `yaml:"documents"`
	Terms                 int     `yaml:"terms"`
	TotalTokens           uint64  `yaml:"totalTokens"`
	AverageDocumentLength float64 `yaml:"averageDocumentLength"`
	PostingsBytes         int64   `yaml:"postingsBytes"`
}

// BuildSummary records how the build went.
type BuildSummary struct {
	Articles  int64         `yaml:"articles"`
	Indexed   int64         `yaml:"indexed"`
	Skipped   int64         `yaml:"skipped"`
	Empty     int64         `yaml:"empty"`
	Filtered  int64         `yaml:"filtered"`
	Failed    int64         `yaml:"failed"`
	Truncated bool          `yaml:"truncated"`
	Workers   int           `yaml:"workers"`
	Duration  time.Duration `yaml:"duration"`
}

// NewManifest fills in the stats section from idx.
func NewManifest(buildID, source string, idx *index.Index, tok config.TokenizerConfig, store docstore.Descriptor) *Manifest {
	st := idx.Stats()
	return &Manifest{
		FormatVersion: FormatVersion,
		BuildID:       buildID,
		CreatedAt:     time.Now().UTC(),
		Source:        source,
		Segment:       SegmentFile,
		Stats: ManifestStats{
			Documents:             st.TotalDocuments,
			Terms:                 idx.NumTerms(),
			TotalTokens:           st.TotalTokens,
			AverageDocumentLength: st.AverageDocumentLength,
			PostingsBytes:         idx.PostingsSize(),
		},
		Tokenizer: tok,
		Store:     store,
	}
}

// WriteManifest writes dir/manifest.yaml atomically.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return syncDir(dir)
}

func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no manifest in %s", apperrors.ErrIndexNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, corruptf("parsing manifest: %v", err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, corruptf("manifest format version %d", m.FormatVersion)
	}
	if m.Segment != SegmentFile {
		return nil, corruptf("manifest names segment %q", m.Segment)
	}
	return &m, nil
}

func (m *Manifest) matches(idx *index.Index) error {
	st := idx.Stats()
	switch {
	case m.Stats.Documents != st.TotalDocuments,
		m.Stats.Terms != idx.NumTerms(),
		m.Stats.TotalTokens != st.TotalTokens,
		m.Stats.PostingsBytes != idx.PostingsSize(),
		math.Abs(m.Stats.AverageDocumentLength-st.AverageDocumentLength) > 1e-9:
		return corruptf("manifest stats do not match segment (documents %d/%d, terms %d/%d)",
			m.Stats.Documents, st.TotalDocuments, m.Stats.Terms, idx.NumTerms())
	}
	return nil
}
