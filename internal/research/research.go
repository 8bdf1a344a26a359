package research

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"gopkg.in/yaml.v3"
)

// Feed 外部扫描器写出的候选文件
type Feed struct {
	GeneratedAt time.Time          `yaml:"generated_at"`
	Candidates  []domain.Candidate `yaml:"candidates"`
}

// FileSource 每个周期重新读取候选 YAML。maxAge > 0 时拒绝过期文件。
type FileSource struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

func NewFileSource(path string, maxAge time.Duration) *FileSource {
	return &FileSource{path: path, maxAge: maxAge, now: time.Now}
}

func (s *FileSource) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &domain.ExternalCallFailure{Op: "research", Err: err}
	}
	var f Feed
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &domain.ExternalCallFailure{Op: "research", Err: fmt.Errorf("decode %s: %w", s.path, err)}
	}
	if s.maxAge > 0 && !f.GeneratedAt.IsZero() && s.now().Sub(f.GeneratedAt) > s.maxAge {
		return nil, &domain.ExternalCallFailure{Op: "research", Err: fmt.Errorf("feed generated at %s is older than %s", f.GeneratedAt.Format(time.RFC3339), s.maxAge)}
	}

	out := make([]domain.Candidate, 0, len(f.Candidates))
	seen := make(map[string]struct{}, len(f.Candidates))
	for _, c := range f.Candidates {
		c = c.Normalize()
		if c.Ticker == "" {
			continue
		}
		// 同一 ticker 只取第一条
		if _, dup := seen[c.Ticker]; dup {
			continue
		}
		seen[c.Ticker] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
