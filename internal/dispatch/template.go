package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"tgblast/internal/domain"
)

// Renderer renders a campaign template for one recipient. Parsed templates
// are cached by template id + body hash, since a campaign renders the same
// body thousands of times.
type Renderer struct {
	engine *liquid.Engine

	mu    sync.Mutex
	cache map[string]*liquid.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		engine: liquid.NewEngine(),
		cache:  map[string]*liquid.Template{},
	}
}

// Render substitutes the recipient's variables into the template body.
// Bodies without liquid tags pass through unchanged.
func (r *Renderer) Render(t *domain.Template, rcpt *domain.Recipient) (string, error) {
	if !strings.Contains(t.Body, "{{") && !strings.Contains(t.Body, "{%") {
		return t.Body, nil
	}

	key := t.ID + "\x00" + t.Body
	r.mu.Lock()
	tpl, ok := r.cache[key]
	r.mu.Unlock()
	if !ok {
		parsed, err := r.engine.ParseTemplate([]byte(t.Body))
		if err != nil {
			return "", fmt.Errorf("template %s: parse: %w", t.ID, err)
		}
		r.mu.Lock()
		// Bodies are immutable per id in practice; cap the cache anyway.
		if len(r.cache) > 128 {
			r.cache = map[string]*liquid.Template{}
		}
		r.cache[key] = parsed
		r.mu.Unlock()
		tpl = parsed
	}

	out, err := tpl.RenderString(rcpt.Vars())
	if err != nil {
		return "", fmt.Errorf("template %s: render: %w", t.ID, err)
	}
	return out, nil
}
