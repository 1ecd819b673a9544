package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

var (
	// ErrEmptyPrompt is returned when the regeneration instruction is blank.
	ErrEmptyPrompt = errors.New("admin: regeneration prompt is empty")

	// ErrEmptyResult is returned when the model proposes no services. The
	// stored collection is left untouched.
	ErrEmptyResult = errors.New("admin: regeneration returned no services")
)

// serviceFields are the five string fields every regenerated service must carry.
var serviceFields = []string{"id", "title", "description", "iconName", "detailedContent"}

// ServiceSchema constrains regeneration output to an array of services.
func ServiceSchema() *llm.Schema {
	props := make(map[string]*llm.Schema, len(serviceFields))
	for _, f := range serviceFields {
		props[f] = &llm.Schema{Type: llm.TypeString}
	}
	return &llm.Schema{
		Type: llm.TypeArray,
		Items: &llm.Schema{
			Type:       llm.TypeObject,
			Properties: props,
			Required:   append([]string(nil), serviceFields...),
		},
	}
}

// RegeneratePrompt builds the strategist prompt from the current offerings
// and the admin's instruction.
func RegeneratePrompt(current []catalog.Service, instruction string) (string, error) {
	if current == nil {
		current = []catalog.Service{}
	}
	data, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("admin: encode services: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an elite business consultancy strategist.\n")
	fmt.Fprintf(&b, "The following is a list of current services for \"Apex Strategy\": %s\n", data)
	fmt.Fprintf(&b, "The user wants to update, refine, or add to these services based on this instruction: %q\n\n", instruction)
	b.WriteString("RULES:\n")
	b.WriteString("1. Keep the output as a valid JSON array of Service objects.\n")
	fmt.Fprintf(&b, "2. Icons must be valid icon names (one of %s).\n", strings.Join(catalog.IconNames(), ", "))
	b.WriteString("3. Maintain a \"high-end, elite, growth-engineered\" tone.\n")
	b.WriteString("4. DetailedContent should be 2-3 sentences of professional \"fluff-free\" consulting copy.\n\n")
	b.WriteString("Return ONLY the JSON array.")
	return b.String(), nil
}

// RegenerateServices asks the text model to rewrite the service offerings
// according to instruction and, on success, replaces the stored collection
// wholesale. Provider and validation failures wrap
// [llm.ErrTransientUnavailable] and leave the collection untouched.
func (s *Service) RegenerateServices(ctx context.Context, instruction string) ([]catalog.Service, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, ErrEmptyPrompt
	}
	if s.llm == nil {
		return nil, fmt.Errorf("admin: regenerate: %w: no text model configured", llm.ErrTransientUnavailable)
	}

	current, err := s.repo.Services(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: regenerate: %w", err)
	}
	prompt, err := RegeneratePrompt(current, instruction)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "admin.regenerate_services")
	defer span.End()

	start := time.Now()
	raw, err := s.llm.GenerateJSON(ctx, llm.GenerateRequest{
		Prompt: prompt,
		Schema: ServiceSchema(),
		Model:  s.cfg.RegenerateModel,
	})
	s.metrics.RecordLLM(ctx, "regenerate", s.cfg.ProviderName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("admin: regenerate: %w: %w", llm.ErrTransientUnavailable, err)
	}

	services, err := decodeServices(raw)
	if err != nil {
		return nil, fmt.Errorf("admin: regenerate: %w: %w", llm.ErrTransientUnavailable, err)
	}
	if len(services) == 0 {
		return nil, ErrEmptyResult
	}
	if err := s.repo.SaveServices(ctx, services); err != nil {
		return nil, fmt.Errorf("admin: regenerate: %w", err)
	}
	observe.Logger(ctx).Info("services regenerated", "count", len(services))
	return services, nil
}

// decodeServices parses model output, requiring every field of every element.
func decodeServices(raw []byte) ([]catalog.Service, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]catalog.Service, 0, len(items))
	var errs []error
	for i, item := range items {
		fields := make(map[string]string, len(serviceFields))
		for _, f := range serviceFields {
			v, ok := item[f].(string)
			if !ok || strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Errorf("service %d: field %q missing or empty", i, f))
				continue
			}
			fields[f] = v
		}
		out = append(out, catalog.Service{
			ID:              fields["id"],
			Title:           fields["title"],
			Description:     fields["description"],
			IconName:        catalog.ParseIcon(fields["iconName"]),
			DetailedContent: fields["detailedContent"],
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
