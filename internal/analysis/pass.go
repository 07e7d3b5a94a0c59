package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/knowledge"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
)

// Option configures analyzers and passes.
type Option func(*settings)

type settings struct {
	logger    *zap.Logger
	threshold float64
	limit     int
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:    zap.NewNop(),
		threshold: knowledge.DefaultThreshold,
		limit:     knowledge.DefaultLimit,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetrieval sets the knowledge similarity threshold and passage limit.
func WithRetrieval(threshold float64, limit int) Option {
	return func(s *settings) {
		s.threshold = threshold
		s.limit = limit
	}
}

// Pass runs the specialist analyzers concurrently over one snapshot.
type Pass struct {
	analyzers []*Analyzer
	logger    *zap.Logger
}

// NewPass creates a pass with the usability, accessibility and conversion analyzers.
func NewPass(o oracle.Oracle, r knowledge.Retriever, opts ...Option) *Pass {
	cfg := newSettings(opts)
	p := &Pass{logger: cfg.logger}
	for _, s := range Specialties {
		p.analyzers = append(p.analyzers, NewAnalyzer(s, o, r, opts...))
	}
	return p
}

// Run fans out to every analyzer and concatenates their findings in analyzer order.
// A failing analyzer contributes nothing and does not affect the others.
func (p *Pass) Run(ctx context.Context, in Input) []domain.Finding {
	in.Context = in.Context.Clone()
	in.Events = append([]domain.Event(nil), in.Events...)
	in.Tasks = append([]domain.Task(nil), in.Tasks...)

	results := make([][]domain.Finding, len(p.analyzers))
	var g errgroup.Group
	for i, a := range p.analyzers {
		i, a := i, a
		g.Go(func() (err error) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s analyzer panicked: %v", a.Specialty(), r)
				}
				if err != nil {
					p.logger.Warn("analyzer failed",
						zap.String("run_id", in.RunID),
						zap.String("specialty", string(a.Specialty())),
						zap.Error(err))
					results[i] = nil
				}
				// Isolated: never propagate to the group.
				err = nil
			}()
			found, err := a.Analyze(ctx, in)
			if err != nil {
				return err
			}
			results[i] = found
			p.logger.Debug("analyzer finished",
				zap.String("run_id", in.RunID),
				zap.String("specialty", string(a.Specialty())),
				zap.Int("findings", len(found)),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Finding
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
