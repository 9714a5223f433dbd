package workflows

import (
	"context"
	"sync"

	"followup_backend/internal/condition"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"

	"github.com/google/uuid"
)

// ParsedDefinition is a workflow definition with its condition expressions
// compiled once at load time. Definitions are immutable at runtime, so the
// parsed ASTs are safe to share across ticks.
type ParsedDefinition struct {
	repository.Definition

	// StopConds holds the successfully parsed stop conditions.
	StopConds []condition.Condition
	// StepConds holds one entry per step; nil when the step has no condition
	// or its expression failed to parse (fail closed: an unparseable step
	// condition behaves as false, skipping the step's action).
	StepConds []*condition.Condition
	// StepCondInvalid marks steps whose condition text existed but did not parse.
	StepCondInvalid []bool
}

// DefinitionLister is the repository slice the cache loads from.
type DefinitionLister interface {
	ListEnabledDefinitions(ctx context.Context) ([]repository.Definition, error)
}

// DefinitionCache holds parsed definitions indexed by trigger type and id.
// Loaded at process start; Reload may be called at runtime after definitions
// change.
type DefinitionCache struct {
	mu        sync.RWMutex
	byTrigger map[string][]*ParsedDefinition
	byID      map[uuid.UUID]*ParsedDefinition

	lister DefinitionLister
	log    *logger.Logger
}

func NewDefinitionCache(lister DefinitionLister, log *logger.Logger) *DefinitionCache {
	return &DefinitionCache{
		byTrigger: make(map[string][]*ParsedDefinition),
		byID:      make(map[uuid.UUID]*ParsedDefinition),
		lister:    lister,
		log:       log,
	}
}

// Reload replaces the cache contents from the store.
func (c *DefinitionCache) Reload(ctx context.Context) error {
	defs, err := c.lister.ListEnabledDefinitions(ctx)
	if err != nil {
		return err
	}

	byTrigger := make(map[string][]*ParsedDefinition)
	byID := make(map[uuid.UUID]*ParsedDefinition)

	for _, def := range defs {
		parsed := c.parse(def)
		byTrigger[def.TriggerType] = append(byTrigger[def.TriggerType], parsed)
		byID[def.ID] = parsed
	}

	c.mu.Lock()
	c.byTrigger = byTrigger
	c.byID = byID
	c.mu.Unlock()

	c.log.Info("workflow definitions loaded", "count", len(defs))
	return nil
}

func (c *DefinitionCache) parse(def repository.Definition) *ParsedDefinition {
	parsed := &ParsedDefinition{
		Definition:      def,
		StepConds:       make([]*condition.Condition, len(def.Steps)),
		StepCondInvalid: make([]bool, len(def.Steps)),
	}

	stops, bad := condition.ParseAll(def.StopConditions)
	parsed.StopConds = stops
	for _, expr := range bad {
		c.log.Warn("unparseable stop condition ignored", "workflow", def.Name, "expression", expr)
	}

	for i, step := range def.Steps {
		if step.Condition == "" {
			continue
		}
		cond, err := condition.Parse(step.Condition)
		if err != nil {
			parsed.StepCondInvalid[i] = true
			c.log.Warn("unparseable step condition fails closed", "workflow", def.Name, "step", i, "expression", step.Condition)
			continue
		}
		parsed.StepConds[i] = &cond
	}

	return parsed
}

// ForTrigger returns the definitions whose entry trigger matches the event type.
func (c *DefinitionCache) ForTrigger(triggerType string) []*ParsedDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byTrigger[triggerType]
}

// ByID returns the definition with the given id, or nil.
func (c *DefinitionCache) ByID(id uuid.UUID) *ParsedDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}
