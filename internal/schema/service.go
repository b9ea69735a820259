// Package schema is the management service coordinating the metadata
// store and the dynamic table engine.
//
// Every physical-shape mutation round-trips through the table engine
// before the metadata is considered committed, so the metadata never
// promises columns the table does not have. The service keeps a
// short-lived definition cache, invalidated on every schema change.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dynabo/dynabo/internal/dyntable"
	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/store"
)

// Service exposes the schema management surface.
type Service struct {
	store  *store.Store
	tables *dyntable.Engine
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*meta.BODefinition
}

// New creates the schema service.
func New(st *store.Store, tables *dyntable.Engine, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		tables: tables,
		log:    log,
		cache:  make(map[string]*meta.BODefinition),
	}
}

// CreateDefinition registers a new BO and materializes its physical
// table. The table name derives from the configured prefix and the BO
// code; the code is immutable once the table exists.
func (s *Service) CreateDefinition(ctx context.Context, def *meta.BODefinition) (*meta.BODefinition, error) {
	def.TableName = s.tables.TableName(def.Code)

	if err := meta.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if _, err := s.store.GetDefinition(ctx, def.Code); err == nil {
		return nil, fmt.Errorf("create definition: %w",
			errs.Newf(errs.KindConflict, errs.CodeDuplicateDef,
				"BO definition %q already exists", def.Code).
				WithField("code").
				WithHint("use the update endpoint to evolve an existing BO"))
	} else if !errs.HasCode(err, errs.CodeUnknownBO) {
		return nil, err
	}

	if def.ModuleCode != "" {
		if _, err := s.store.GetModule(ctx, def.ModuleCode); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	if err := s.tables.CreateTable(ctx, def); err != nil {
		// Roll the metadata back so a failed provisioning leaves no
		// definition promising a table that does not exist.
		if derr := s.store.DeleteDefinition(ctx, def.Code); derr != nil {
			s.log.Error("orphaned definition after failed create",
				"bo", def.Code, "error", derr)
		}
		return nil, err
	}
	if err := s.store.SetTableCreated(ctx, def.Code, true); err != nil {
		return nil, err
	}

	s.invalidate(def.Code)
	s.log.Info("created BO", "bo", def.Code, "table", def.TableName)
	return s.GetDefinition(ctx, def.Code)
}

// UpsertDefinition creates the BO when absent; otherwise it updates
// display attributes and appends any fields not yet declared. Existing
// fields are never retyped or dropped implicitly. Returns the stored
// definition and whether it was created.
func (s *Service) UpsertDefinition(ctx context.Context, code string, def *meta.BODefinition) (*meta.BODefinition, bool, error) {
	def.Code = code

	existing, err := s.store.GetDefinition(ctx, code)
	if errs.HasCode(err, errs.CodeUnknownBO) {
		created, cerr := s.CreateDefinition(ctx, def)
		return created, true, cerr
	}
	if err != nil {
		return nil, false, err
	}

	existing.Name = orDefault(def.Name, existing.Name)
	existing.Description = orDefault(def.Description, existing.Description)
	existing.ModuleCode = orDefault(def.ModuleCode, existing.ModuleCode)
	if err := s.store.UpdateDefinition(ctx, existing); err != nil {
		return nil, false, err
	}

	for _, f := range def.Fields {
		if _, ok := existing.Field(f.Code); ok {
			continue
		}
		if _, err := s.AddField(ctx, code, f); err != nil {
			return nil, false, err
		}
	}

	if def.Workflow != nil && existing.Workflow == nil {
		if err := s.SetWorkflow(ctx, code, def.Workflow); err != nil {
			return nil, false, err
		}
	}

	s.invalidate(code)
	stored, err := s.GetDefinition(ctx, code)
	return stored, false, err
}

// GetDefinition resolves a BO definition, serving from the cache when
// possible. The cache is invalidated on every schema change.
func (s *Service) GetDefinition(ctx context.Context, code string) (*meta.BODefinition, error) {
	s.mu.RLock()
	if def, ok := s.cache[code]; ok {
		s.mu.RUnlock()
		return def, nil
	}
	s.mu.RUnlock()

	def, err := s.store.GetDefinition(ctx, code)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[code] = def
	s.mu.Unlock()
	return def, nil
}

// ListDefinitions lists BO definitions, optionally scoped to a module.
func (s *Service) ListDefinitions(ctx context.Context, moduleCode string) ([]meta.BODefinition, error) {
	return s.store.ListDefinitions(ctx, moduleCode)
}

// DeleteDefinition removes a BO definition and drops its table. The
// drop is destructive; callers confirm it explicitly.
func (s *Service) DeleteDefinition(ctx context.Context, code string) error {
	def, err := s.store.GetDefinition(ctx, code)
	if err != nil {
		return err
	}
	if def.TableCreated {
		if err := s.tables.DropTable(ctx, code); err != nil {
			return err
		}
	}
	if err := s.store.DeleteDefinition(ctx, code); err != nil {
		return err
	}
	s.invalidate(code)
	s.log.Info("deleted BO", "bo", code)
	return nil
}

// AddField declares a new field and appends its column. The DDL runs
// first; metadata commits only after the physical shape matches, and a
// metadata failure after successful DDL is reported as drift rather
// than silently ignored.
func (s *Service) AddField(ctx context.Context, boCode string, f meta.FieldDefinition) (*meta.BODefinition, error) {
	def, err := s.store.GetDefinition(ctx, boCode)
	if err != nil {
		return nil, err
	}
	if err := meta.ValidateField(f); err != nil {
		return nil, err
	}
	if existing, ok := def.Field(f.Code); ok {
		if existing.Type == f.Type {
			// Same field, same type: idempotent.
			return def, nil
		}
		return nil, fmt.Errorf("add field: %w",
			errs.Newf(errs.KindUnsupported, errs.CodeUnsupportedRetype,
				"field %q already exists with type %q", f.Code, existing.Type).
				WithField(f.Code).
				WithHint("remove the field first; retyping in place is not supported"))
	}

	if def.TableCreated {
		if err := s.tables.AddColumn(ctx, boCode, f); err != nil {
			return nil, err
		}
	}
	if err := s.store.AddField(ctx, boCode, f); err != nil {
		return nil, fmt.Errorf("add field: column %q applied but metadata not committed: %w",
			f.Code, errs.New(errs.KindInfrastructure, errs.CodeSchemaDrift,
				"metadata and physical table have drifted"))
	}

	s.invalidate(boCode)
	s.log.Info("added field", "bo", boCode, "field", f.Code, "type", string(f.Type))
	return s.GetDefinition(ctx, boCode)
}

// RemoveField drops a field's column and deletes its metadata. This is
// the explicitly confirmed destructive path; nothing else drops
// columns.
func (s *Service) RemoveField(ctx context.Context, boCode, fieldCode string) error {
	def, err := s.store.GetDefinition(ctx, boCode)
	if err != nil {
		return err
	}
	if _, ok := def.Field(fieldCode); !ok {
		return fmt.Errorf("remove field: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"field %q does not exist on BO %q", fieldCode, boCode).
				WithField(fieldCode))
	}

	if def.TableCreated {
		if err := s.tables.DropColumn(ctx, boCode, fieldCode); err != nil {
			return err
		}
	}
	if err := s.store.DeleteField(ctx, boCode, fieldCode); err != nil {
		return err
	}

	s.invalidate(boCode)
	s.log.Info("removed field", "bo", boCode, "field", fieldCode)
	return nil
}

// RetypeField is deliberately unsupported; the only path is an explicit
// RemoveField followed by AddField, which is lossy.
func (s *Service) RetypeField(boCode, fieldCode string) error {
	return s.tables.RetypeColumn(boCode, fieldCode)
}

// SetWorkflow attaches or replaces a BO's workflow definition.
func (s *Service) SetWorkflow(ctx context.Context, boCode string, w *meta.WorkflowDefinition) error {
	if _, err := s.store.GetDefinition(ctx, boCode); err != nil {
		return err
	}
	if err := s.store.SetWorkflow(ctx, boCode, w); err != nil {
		return err
	}
	s.invalidate(boCode)
	return nil
}

// CreateRelation stores a typed link between two existing BOs.
func (s *Service) CreateRelation(ctx context.Context, r *meta.RelationDefinition) error {
	if _, err := s.store.GetDefinition(ctx, r.SourceBO); err != nil {
		return err
	}
	if _, err := s.store.GetDefinition(ctx, r.TargetBO); err != nil {
		return err
	}
	if err := s.store.CreateRelation(ctx, r); err != nil {
		return err
	}
	s.invalidate(r.SourceBO)
	s.invalidate(r.TargetBO)
	return nil
}

// TableInfo reports declared metadata against the live table: the
// drift view.
type TableInfo struct {
	BOCode       string   `json:"bo_code"`
	TableName    string   `json:"table_name"`
	TableCreated bool     `json:"table_created"`
	LiveColumns  []string `json:"live_columns"`

	// MissingColumns are declared fields with no physical column.
	MissingColumns []string `json:"missing_columns,omitempty"`

	// ExtraColumns are physical columns no metadata declares.
	ExtraColumns []string `json:"extra_columns,omitempty"`
}

// InspectTable diffs a BO's declared field set against the introspected
// physical table.
func (s *Service) InspectTable(ctx context.Context, boCode string) (*TableInfo, error) {
	def, err := s.store.GetDefinition(ctx, boCode)
	if err != nil {
		return nil, err
	}

	info := &TableInfo{
		BOCode:       boCode,
		TableName:    def.TableName,
		TableCreated: def.TableCreated,
	}
	if !def.TableCreated {
		return info, nil
	}

	desc, err := s.tables.DescribeTable(ctx, boCode)
	if err != nil {
		return nil, err
	}
	info.LiveColumns = desc.ColumnNames()

	for _, f := range def.Fields {
		if !desc.HasColumn(f.Code) {
			info.MissingColumns = append(info.MissingColumns, f.Code)
		}
	}
	declared := make(map[string]struct{}, len(def.Fields))
	for _, f := range def.Fields {
		declared[f.Code] = struct{}{}
	}
	for _, name := range info.LiveColumns {
		if meta.IsSystemColumn(name) {
			continue
		}
		if _, ok := declared[name]; !ok {
			info.ExtraColumns = append(info.ExtraColumns, name)
		}
	}
	return info, nil
}

// Module management passes through to the store; the delete policy
// (block while BOs remain) is enforced there.

func (s *Service) CreateModule(ctx context.Context, m *meta.Module) error {
	return s.store.CreateModule(ctx, m)
}

func (s *Service) GetModule(ctx context.Context, code string) (*meta.Module, error) {
	return s.store.GetModule(ctx, code)
}

func (s *Service) ListModules(ctx context.Context) ([]meta.Module, error) {
	return s.store.ListModules(ctx)
}

func (s *Service) UpdateModule(ctx context.Context, m *meta.Module) error {
	return s.store.UpdateModule(ctx, m)
}

func (s *Service) DeleteModule(ctx context.Context, code string) error {
	return s.store.DeleteModule(ctx, code)
}

func (s *Service) invalidate(code string) {
	s.mu.Lock()
	delete(s.cache, code)
	s.mu.Unlock()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
