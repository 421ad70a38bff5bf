package pipeline

import (
	"github.com/fortuna/lheq/internal/stats"
)

// StatsCompilers returns a factory producing stats.Compiler passes over gamesDir.
func StatsCompilers(gamesDir, webDir string, opts ...stats.Option) CompilerFactory {
	return func(includeTournaments bool) Compiler {
		return stats.NewCompiler(gamesDir, webDir, includeTournaments, opts...)
	}
}
