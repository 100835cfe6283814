package replicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Output is the normalized form of a prediction's output field. Replicate
// models disagree on the shape: some return a bare URL string, some a list
// of URLs, some an object carrying a url property. Normalizing here keeps
// the callers shape-agnostic.
type Output struct {
	// URLs holds every delivery URL found in the output, in model order.
	URLs []string
}

// FirstURL returns the first delivery URL, or an error when the prediction
// produced none.
func (o Output) FirstURL() (string, error) {
	if len(o.URLs) == 0 {
		return "", errors.New("replicate: prediction produced no output URL")
	}
	return o.URLs[0], nil
}

// ParseOutput normalizes a raw prediction output into an Output. Unknown
// shapes fail hard rather than guessing; a new model shape needs an explicit
// case here.
func ParseOutput(raw json.RawMessage) (Output, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Output{}, errors.New("replicate: prediction returned no output")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Output{}, fmt.Errorf("replicate: decode output: %w", err)
	}

	urls, err := collectURLs(decoded)
	if err != nil {
		return Output{}, err
	}
	if len(urls) == 0 {
		return Output{}, errors.New("replicate: prediction returned no output URL")
	}

	return Output{URLs: urls}, nil
}

func collectURLs(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	case []any:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			nested, err := collectURLs(item)
			if err != nil {
				return nil, err
			}
			urls = append(urls, nested...)
		}
		return urls, nil
	case map[string]any:
		rawURL, ok := v["url"]
		if !ok {
			return nil, fmt.Errorf("replicate: unsupported output object without url field")
		}
		urlString, ok := rawURL.(string)
		if !ok {
			return nil, fmt.Errorf("replicate: unsupported output url type %T", rawURL)
		}
		trimmed := strings.TrimSpace(urlString)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	default:
		return nil, fmt.Errorf("replicate: unsupported output shape %T", value)
	}
}
