package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// CreateTemplate saves a named mapping for an entity type.
func (s *Service) CreateTemplate(ctx context.Context, entityType, name string, mapping FieldMapping, sourceColumns []string) (*MappingTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	fields, err := FieldsFor(entityType)
	if err != nil {
		return nil, err
	}
	if mapping.Len() == 0 {
		return nil, fmt.Errorf("template mapping is required")
	}
	if err := mapping.Check(fields, nil); err != nil {
		return nil, err
	}

	at := s.now()
	t := MappingTemplate{
		ID:            uuid.NewString(),
		EntityType:    entityType,
		Name:          name,
		Mapping:       mapping.Map(),
		SourceColumns: sourceColumns,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if err := s.store.SaveTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return &t, nil
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", ErrTemplateNotFound, id)
	}
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns all templates for an entity type.
func (s *Service) ListTemplates(ctx context.Context, entityType string) ([]MappingTemplate, error) {
	if _, err := FieldsFor(entityType); err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// UpdateTemplate replaces the name, mapping and source columns of a template.
func (s *Service) UpdateTemplate(ctx context.Context, id, name string, mapping FieldMapping, sourceColumns []string) (*MappingTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}

	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	fields, err := FieldsFor(t.EntityType)
	if err != nil {
		return nil, err
	}
	if err := mapping.Check(fields, nil); err != nil {
		return nil, err
	}

	t.Name = name
	t.Mapping = mapping.Map()
	t.SourceColumns = sourceColumns
	t.UpdatedAt = s.now()
	if err := s.store.SaveTemplate(ctx, *t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

// MatchTemplates finds templates whose saved columns overlap the given
// columns by at least TemplateMatchThreshold, best match first.
func (s *Service) MatchTemplates(ctx context.Context, entityType string, columns []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx, entityType)
	if err != nil {
		return nil, err
	}

	matches := []TemplateMatch{}
	for _, t := range templates {
		score := matchTemplateColumns(columns, t.SourceColumns)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// ApplyTemplate sets a session's mapping from a template. Template
// entries whose column is absent from the file are dropped.
func (s *Service) ApplyTemplate(ctx context.Context, sessionID, templateID string) (SessionView, error) {
	sess, err := s.sessions.get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return SessionView{}, err
	}
	if t.EntityType != sess.entityType {
		return SessionView{}, fmt.Errorf("%w: template %s is for %s, not %s", ErrEntityMismatch, t.ID, t.EntityType, sess.entityType)
	}

	if err := sess.SetMapping(templateMapping(*t, sess.table), s.now()); err != nil {
		return SessionView{}, err
	}
	return sess.View(), nil
}

// templateMapping keeps the template pairs whose column exists in table.
func templateMapping(t MappingTemplate, table *SourceTable) FieldMapping {
	pairs := make(map[string]string, len(t.Mapping))
	for field, col := range t.Mapping {
		if table == nil || table.HasColumn(col) {
			pairs[field] = col
		}
	}
	return NewFieldMapping(pairs)
}

// matchTemplateColumns is the share of template columns present in columns.
func matchTemplateColumns(columns, templateColumns []string) float64 {
	if len(templateColumns) == 0 {
		return 0
	}

	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(strings.TrimSpace(c))] = true
	}

	matched := 0
	for _, c := range templateColumns {
		if have[strings.ToLower(strings.TrimSpace(c))] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateColumns))
}
