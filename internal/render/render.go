// Package render renders drip subjects and bodies with Liquid templates.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer parses each distinct template source once and reuses it.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ user.first_name | default: "there" }} also treats "" as missing
	r.engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprint(value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	r.engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})
	r.engine.RegisterFilter("currency", func(value any) string {
		switch v := value.(type) {
		case float64:
			return fmt.Sprintf("$%.2f", v)
		case int:
			return fmt.Sprintf("$%.2f", float64(v))
		case int64:
			return fmt.Sprintf("$%.2f", float64(v))
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return v
			}
			return fmt.Sprintf("$%.2f", f)
		}
		return fmt.Sprint(value)
	})
}

func (r *Renderer) template(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	actual, _ := r.cache.LoadOrStore(src, tpl)
	return actual.(*liquid.Template), nil
}

// Render evaluates src against ctx. Missing variables render empty.
func (r *Renderer) Render(src string, ctx map[string]any) (string, error) {
	tpl, err := r.template(src)
	if err != nil {
		return "", err
	}
	out, serr := tpl.RenderString(ctx)
	if serr != nil {
		return "", fmt.Errorf("render template: %w", serr)
	}
	return out, nil
}

// Validate reports whether src parses.
func (r *Renderer) Validate(src string) error {
	_, err := r.template(src)
	return err
}
