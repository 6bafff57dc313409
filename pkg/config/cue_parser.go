package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/go-playground/validator/v10"
)

// workflowField is the top-level field holding the workflow in a CUE source.
// Sources without it are read as the workflow itself.
const workflowField = "workflow"

// CUEParser parses workflow definitions written in CUE and checks them
// against the built-in #Workflow schema.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
		validator:      newValidator(),
	}
}

// Parse parses CUE definitions from files and package directories. Parse
// and validation problems are reported in the result's Errors; the returned
// error is reserved for unreadable sources.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedDefinition, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}
		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedDefinition{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractDefinition(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedDefinition{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}
	return cp.extractDefinition(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}
	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// extractDefinition checks the workflow value against #Workflow, decodes it
// and runs struct validation.
func (cp *CUEParser) extractDefinition(val cue.Value, sourceFiles []string) *ParsedDefinition {
	parsed := &ParsedDefinition{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	if w := val.LookupPath(cue.ParsePath(workflowField)); w.Exists() {
		val = w
	}

	unified, err := cp.schemaRegistry.Unify(SchemaWorkflow, val)
	if err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed
	}

	var def WorkflowDefinition
	if err := unified.Decode(&def); err != nil {
		parsed.Errors = []ValidationError{{
			Path:     workflowField,
			Message:  fmt.Sprintf("failed to decode workflow: %v", err),
			Severity: "error",
		}}
		return parsed
	}

	parsed.Errors = validateDefinition(cp.validator, &def)
	if !HasErrors(parsed.Errors) {
		parsed.Definition = &def
	}
	return parsed
}

// ParseCatalog parses a CUE catalog of services and infrastructure targets.
func (cp *CUEParser) ParseCatalog(path string) (*CatalogFile, error) {
	val, errs := cp.loadFile(path)
	if len(errs) > 0 {
		return nil, &DefinitionError{Errors: errs}
	}
	unified, err := cp.schemaRegistry.Unify(SchemaCatalog, val)
	if err != nil {
		return nil, &DefinitionError{Errors: convertCUEErrors(err)}
	}
	var cf CatalogFile
	if err := unified.Decode(&cf); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}
	return &cf, nil
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// convertCUEErrors converts CUE errors to ValidationErrors with positions.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := sourcePosition(errors.Positions(e)); pos.IsValid() {
			file = pos.Filename()
			line = pos.Line()
			column = pos.Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     cuePath(e),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}
	return validationErrors
}

// sourcePosition prefers a position in the user's sources over one in the
// built-in schemas.
func sourcePosition(positions []token.Pos) token.Pos {
	for _, p := range positions {
		if p.Filename() != schemaFilename {
			return p
		}
	}
	if len(positions) > 0 {
		return positions[0]
	}
	return token.NoPos
}

func cuePath(e errors.Error) string {
	var path string
	for i, sel := range e.Path() {
		if i > 0 {
			path += "."
		}
		path += sel
	}
	return path
}
