package backend

import (
	"fmt"

	"github.com/codefionn/personachat/internal/config"
)

// New constructs the named backend from configuration.
func New(name string, cfg *config.Config) (Backend, error) {
	bc := cfg.Backend(name)

	switch name {
	case "kobold":
		return NewKobold(bc)
	case "textgen":
		return NewTextGen(bc)
	case "novel":
		return NewNovel(bc)
	case "horde":
		return NewHorde(bc)
	case "openai":
		return NewOpenAI(bc, cfg.Sampling.MaxContext)
	case "claude":
		return NewClaude(bc, cfg.Sampling.MaxContext)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
